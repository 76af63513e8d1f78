// Package webapphook implements the Telegram Mini App init-data signature
// check (spec §6: "a hook for this validation without embedding the
// webapp logic"). No routes are registered here — the mini-app façade
// itself is out of scope for this service (spec §1) — this is exported so
// that façade, when it exists, can call it.
package webapphook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned when the init-data hash does not match.
var ErrInvalidSignature = errors.New("webapphook: invalid init data signature")

// ErrExpired is returned when auth_date is older than maxAge.
var ErrExpired = errors.New("webapphook: init data expired")

// VerifyTelegramInitData validates the standard Telegram WebApp
// HMAC-SHA256 init-data signature and returns the authenticated user id.
//
// Algorithm (per Telegram's WebApp documentation): the secret key is
// HMAC-SHA256("WebAppData", botToken); every initData field except "hash"
// is joined as "key=value" lines sorted lexicographically by key and
// newline-separated; the data-check string's HMAC-SHA256 under the secret
// key, hex-encoded, must equal the "hash" field.
func VerifyTelegramInitData(botToken, initData string, maxAge time.Duration) (userID string, err error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return "", err
	}

	hash := values.Get("hash")
	if hash == "" {
		return "", ErrInvalidSignature
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	dataCheckString := strings.Join(lines, "\n")

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secretKey.Sum(nil))
	mac.Write([]byte(dataCheckString))
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(hash)) {
		return "", ErrInvalidSignature
	}

	if maxAge > 0 {
		if authDate := values.Get("auth_date"); authDate != "" {
			if ts, perr := strconv.ParseInt(authDate, 10, 64); perr == nil {
				if time.Since(time.Unix(ts, 0)) > maxAge {
					return "", ErrExpired
				}
			}
		}
	}

	var user struct {
		ID json.Number `json:"id"`
	}
	if uj := values.Get("user"); uj != "" {
		_ = json.Unmarshal([]byte(uj), &user)
	}
	return user.ID.String(), nil
}
