package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/busybox42/tlsrptd/internal/idgen"
	"github.com/busybox42/tlsrptd/internal/lookup"
	"github.com/busybox42/tlsrptd/internal/report"
	"github.com/busybox42/tlsrptd/internal/storage"
)

const testPassword = "correct horse"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	store := lookup.NewKVStore(storage.NewMemoryBackend())
	submitter, err := report.NewSpoolSubmitter(t.TempDir())
	require.NoError(t, err)
	reporter := report.NewReporter(report.Config{Interval: time.Hour},
		storage.NewMemoryBackend(), idgen.NewSnowflake(1), submitter)

	return NewServer(Config{
		Listen:       "127.0.0.1:0",
		Username:     "admin",
		PasswordHash: string(hash),
		SessionTTL:   time.Minute,
		AuthRate:     lookup.Rate{Requests: 3, Period: time.Minute},
	}, reporter, store, lookup.NewBlockedIPs(store))
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func doRequest(s *Server, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	})

	t.Run("wrong password", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", basicAuth("admin", "wrong"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong username", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", basicAuth("root", testPassword))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid credentials", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", basicAuth("admin", testPassword))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("session cache accepts repeated token", func(t *testing.T) {
		s := newTestServer(t)
		auth := basicAuth("admin", testPassword)
		require.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/api/v1/blocked", auth).Code)
		assert.Equal(t, 1, s.sessions.Len())
		assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/api/v1/blocked", auth).Code)
	})

	t.Run("blocked address rejected before auth", func(t *testing.T) {
		s := newTestServer(t)
		s.blocked.Block(netip.MustParseAddr("192.0.2.1"))

		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", basicAuth("admin", testPassword))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("repeated failures rate limited", func(t *testing.T) {
		s := newTestServer(t)
		bad := basicAuth("admin", "wrong")

		for i := 0; i < 3; i++ {
			rec := doRequest(s, http.MethodGet, "/api/v1/blocked", bad)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		}

		rec := doRequest(s, http.MethodGet, "/api/v1/blocked", bad)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}

func TestHandlers(t *testing.T) {
	auth := basicAuth("admin", testPassword)

	t.Run("reports empty queue", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/api/v1/reports", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("run and sweep", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodPost, "/api/v1/run", auth)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(s, http.MethodPost, "/api/v1/sweep", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("block address", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodPost, "/api/v1/blocked/203.0.113.7", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, s.blocked.IsBlocked(netip.MustParseAddr("203.0.113.7")))

		rec = doRequest(s, http.MethodGet, "/api/v1/blocked", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "203.0.113.7")
	})

	t.Run("block invalid address", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodPost, "/api/v1/blocked/not-an-ip", auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("metrics unauthenticated", func(t *testing.T) {
		s := newTestServer(t)
		rec := doRequest(s, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
