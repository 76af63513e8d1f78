package webapphook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signInitData builds a valid Telegram WebApp initData string for tests,
// mirroring the client-side construction VerifyTelegramInitData checks.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	dataCheckString := strings.Join(lines, "\n")

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretKey.Sum(nil))
	mac.Write([]byte(dataCheckString))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hash)
	return values.Encode()
}

func TestVerifyTelegramInitDataValid(t *testing.T) {
	botToken := "test-bot-token"
	initData := signInitData(t, botToken, map[string]string{
		"user":      `{"id":12345,"first_name":"Ada"}`,
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	})

	userID, err := VerifyTelegramInitData(botToken, initData, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "12345", userID)
}

func TestVerifyTelegramInitDataTamperedFails(t *testing.T) {
	botToken := "test-bot-token"
	initData := signInitData(t, botToken, map[string]string{
		"user":      `{"id":12345}`,
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	})
	tampered := strings.Replace(initData, "12345", "99999", 1)

	_, err := VerifyTelegramInitData(botToken, tampered, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyTelegramInitDataExpired(t *testing.T) {
	botToken := "test-bot-token"
	old := time.Now().Add(-2 * time.Hour).Unix()
	initData := signInitData(t, botToken, map[string]string{
		"user":      `{"id":1}`,
		"auth_date": strconv.FormatInt(old, 10),
	})

	_, err := VerifyTelegramInitData(botToken, initData, time.Hour)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyTelegramInitDataMissingHash(t *testing.T) {
	_, err := VerifyTelegramInitData("tok", "user=%7B%7D", 0)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
