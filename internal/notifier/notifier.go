package notifier

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/outagewatch/hub/internal/apperr"
	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/messenger"
	"github.com/outagewatch/hub/internal/queue"
	"github.com/outagewatch/hub/internal/store"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// dedupWindow is the spec §4.4 10-second per-{subscriber,event_id} window.
const dedupWindow = 10 * time.Second

// progressFlushInterval/progressFlushEvery bound how often a running job's
// progress (and therefore its lease heartbeat) is refreshed (spec §4.4).
const (
	progressFlushInterval = 2 * time.Second
	progressFlushEvery    = 50
)

// Notifier dequeues admin jobs and fans them out to subscribers.
type Notifier struct {
	store   *store.Store
	clock   clock.Clock
	queue   *queue.Queue
	msgr    messenger.Messenger
	isAdmin func(chatID string) bool

	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	maxRetries int

	dedup *expirable.LRU[string, struct{}]
}

// New builds a Notifier. ratePerSec/concurrency/maxRetries come from
// BROADCAST_RATE_PER_SEC/BROADCAST_CONCURRENCY/BROADCAST_MAX_RETRIES
// (spec §6).
func New(st *store.Store, c clock.Clock, q *queue.Queue, msgr messenger.Messenger, isAdmin func(string) bool, ratePerSec float64, concurrency, maxRetries int) *Notifier {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Notifier{
		store: st, clock: c, queue: q, msgr: msgr, isAdmin: isAdmin,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		sem:        semaphore.NewWeighted(int64(concurrency)),
		maxRetries: maxRetries,
		dedup:      expirable.NewLRU[string, struct{}](100_000, nil, dedupWindow),
	}
}

// RunWorkers starts n job-claiming workers and blocks until ctx is
// canceled or a worker returns a non-nil error. On cancellation a worker
// claims no further job; within the job in hand, messenger sends already
// under way complete, subscribers not yet reached are skipped, and the
// job's terminal status write fails on the canceled context, leaving it
// running for the reclaimer.
func (n *Notifier) RunWorkers(ctx context.Context, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return n.workerLoop(ctx, gctx)
		})
	}
	return g.Wait()
}

func (n *Notifier) workerLoop(ctx, gctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := n.queue.Claim(gctx)
		if err != nil {
			if apperr.Is(err, apperr.Transient) {
				if sleepCtx(ctx, 200*time.Millisecond) {
					return nil
				}
				continue
			}
			return err
		}
		if job == nil {
			if sleepCtx(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}
		n.handleJob(ctx, job)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) (canceled bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

func (n *Notifier) handleJob(ctx context.Context, job *queue.Job) {
	var err error
	switch queue.Kind(job.Kind) {
	case queue.KindLightNotify:
		var payload queue.LightNotifyPayload
		if perr := job.DecodePayload(&payload); perr != nil {
			_ = n.queue.Finish(ctx, job.ID, queue.StatusFailed, perr)
			return
		}
		err = n.dispatchLightNotify(ctx, job, payload)
	case queue.KindBroadcast:
		var payload queue.BroadcastPayload
		if perr := job.DecodePayload(&payload); perr != nil {
			_ = n.queue.Finish(ctx, job.ID, queue.StatusFailed, perr)
			return
		}
		err = n.dispatchBroadcast(ctx, job, payload)
	default:
		_ = n.queue.Finish(ctx, job.ID, queue.StatusFailed, apperr.New(apperr.Validation, "unknown job kind: "+job.Kind))
		return
	}
	if err != nil {
		_ = n.queue.Finish(ctx, job.ID, queue.StatusFailed, err)
		return
	}
	_ = n.queue.Finish(ctx, job.ID, queue.StatusDone, nil)
}

func (n *Notifier) dispatchLightNotify(ctx context.Context, job *queue.Job, payload queue.LightNotifyPayload) error {
	subs, err := lightNotifySubscribers(n.store, payload.BuildingID, payload.SectionID)
	if err != nil {
		return err
	}
	globalOff, _ := globalLightNotificationsOff(n.store)
	text := formatTransition(buildingName(n.store, payload.BuildingID), payload.SectionID, payload.EventType)
	dedupKeyFor := func(chatID string) string {
		return chatID + ":" + strconv.FormatInt(payload.EventID, 10)
	}
	return n.fanOut(ctx, job, subs, text, globalOff, dedupKeyFor)
}

func (n *Notifier) dispatchBroadcast(ctx context.Context, job *queue.Job, payload queue.BroadcastPayload) error {
	var buildingID *int
	if payload.Target == "building" {
		buildingID = &payload.BuildingID
	}
	subs, err := allActiveSubscribers(n.store, buildingID)
	if err != nil {
		return err
	}
	dedupKeyFor := func(chatID string) string {
		return chatID + ":broadcast:" + job.ID
	}
	return n.fanOut(ctx, job, subs, payload.Text, false, dedupKeyFor)
}

// fanOut delivers text to every subscriber in subs, applying quiet hours,
// the global switch, dedup, rate limiting, concurrency, and per-subscriber
// retry, while periodically flushing job progress (spec §4.4).
func (n *Notifier) fanOut(ctx context.Context, job *queue.Job, subs []Subscriber, text string, globalOff bool, dedupKeyFor func(string) string) error {
	total := len(subs)
	var (
		mu           sync.Mutex
		current      int
		lastFlush    = n.clock.Now()
		flushLock    sync.Mutex
	)
	maybeFlush := func(force bool) {
		flushLock.Lock()
		defer flushLock.Unlock()
		mu.Lock()
		cur := current
		mu.Unlock()
		if force || cur%progressFlushEvery == 0 || n.clock.Now().Sub(lastFlush) >= progressFlushInterval {
			_ = n.queue.Heartbeat(ctx, job.ID, cur, total)
			lastFlush = n.clock.Now()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		admin := n.isAdmin(sub.ChatID)
		if globalOff && !admin {
			continue
		}
		hour := n.clock.Now().Hour()
		if !admin && sub.InQuietHours(hour) {
			continue
		}
		key := dedupKeyFor(sub.ChatID)
		if _, found := n.dedup.Get(key); found {
			continue
		}
		n.dedup.Add(key, struct{}{})

		g.Go(func() error {
			if err := n.sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer n.sem.Release(1)
			if err := n.limiter.Wait(gctx); err != nil {
				return nil
			}
			n.sendWithRetry(gctx, sub.ChatID, text)
			mu.Lock()
			current++
			mu.Unlock()
			maybeFlush(false)
			return nil
		})
	}
	_ = g.Wait()
	maybeFlush(true)
	return nil
}

// sendWithRetry sends text to chatID, retrying transient messenger errors
// up to maxRetries times and deactivating the subscriber on a permanent
// error (spec §4.4/§7). The job itself never fails because one subscriber
// could not be reached.
func (n *Notifier) sendWithRetry(ctx context.Context, chatID, text string) {
	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		lastErr = n.msgr.SendText(ctx, chatID, text, "")
		if lastErr == nil {
			return
		}
		if apperr.Is(lastErr, apperr.Permanent) {
			_ = deactivateSubscriber(ctx, n.store, chatID)
			return
		}
		if attempt < n.maxRetries {
			sleepCtx(ctx, time.Duration(50*(attempt+1))*time.Millisecond)
		}
	}
}
