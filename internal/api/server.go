// Package api exposes the admin HTTP interface: report queue
// inspection, blocked-address management and manual pipeline triggers.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/busybox42/tlsrptd/internal/lookup"
	"github.com/busybox42/tlsrptd/internal/metrics"
	"github.com/busybox42/tlsrptd/internal/report"
	"github.com/busybox42/tlsrptd/internal/ttlmap"
)

// Config holds the API server settings.
type Config struct {
	Listen       string
	Username     string
	PasswordHash string
	SessionTTL   time.Duration
	AuthRate     lookup.Rate
}

// Server is the admin API server.
type Server struct {
	config     Config
	httpServer *http.Server
	reporter   *report.Reporter
	store      lookup.Store
	blocked    *lookup.BlockedIPs
	sessions   *ttlmap.Map[string, string]
	logger     *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(config Config, reporter *report.Reporter, store lookup.Store, blocked *lookup.BlockedIPs) *Server {
	s := &Server{
		config:   config,
		reporter: reporter,
		store:    store,
		blocked:  blocked,
		sessions: ttlmap.New[string, string](),
		logger:   slog.Default().With("component", "api"),
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/reports", s.handleReports).Methods(http.MethodGet)
	v1.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	v1.HandleFunc("/blocked", s.handleBlockedList).Methods(http.MethodGet)
	v1.HandleFunc("/blocked/{ip}", s.handleBlock).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         config.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	s.logger.Info("admin api listening", "addr", s.config.Listen)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func remoteAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// authMiddleware enforces the blocked-address list, rate limits
// authentication attempts and validates basic credentials against the
// configured bcrypt hash. Successful tokens are cached with a TTL so
// repeated requests skip the hash comparison.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := remoteAddr(r)
		if addr.IsValid() && s.blocked.IsBlocked(addr) {
			metrics.Get().BlockedRejects.Inc()
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		header := r.Header.Get("Authorization")
		mechanism, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(mechanism, "basic") {
			w.Header().Set("WWW-Authenticate", `Basic realm="tlsrptd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token = strings.TrimSpace(token)

		if _, ok := s.sessions.GetWithTTL(token); ok {
			next.ServeHTTP(w, r)
			return
		}

		// Pre-flight the rate limit without penalizing this attempt.
		if addr.IsValid() {
			retryIn, err := lookup.IsRateAllowed(r.Context(), s.store,
				[]byte("auth:"+addr.String()), s.config.AuthRate, true)
			if err == nil && retryIn > 0 {
				metrics.Get().RateLimitDenied.Inc()
				w.Header().Set("Retry-After", retryIn.String())
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}

		if s.authenticate(r.Context(), addr, token) {
			s.sessions.InsertWithTTL(token, s.config.Username, s.config.SessionTTL)
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (s *Server) authenticate(ctx context.Context, addr netip.Addr, token string) bool {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return false
	}

	if username == s.config.Username &&
		bcrypt.CompareHashAndPassword([]byte(s.config.PasswordHash), []byte(password)) == nil {
		return true
	}

	// Failed attempt: commit the rate increment and possibly ban.
	if addr.IsValid() && s.blocked.HasFail2Ban() {
		if banned, err := s.blocked.IsFail2Banned(ctx, addr, username); err == nil && banned {
			s.logger.Warn("address banned after repeated auth failures", "ip", addr.String())
		}
	} else if addr.IsValid() {
		if _, err := lookup.IsRateAllowed(ctx, s.store,
			[]byte("auth:"+addr.String()), s.config.AuthRate, false); err != nil {
			s.logger.Debug("auth rate check failed", "error", err)
		}
	}
	return false
}

type reportSummary struct {
	Domain     string `json:"domain"`
	PolicyHash uint64 `json:"policy_hash"`
	Due        uint64 `json:"due"`
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	due, err := s.reporter.DueGroups(r.Context(), time.Now().Add(365*24*time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]reportSummary, 0)
	for domain, events := range due {
		for _, event := range events {
			summaries = append(summaries, reportSummary{
				Domain:     domain,
				PolicyHash: event.PolicyHash,
				Due:        event.Due,
			})
		}
	}
	writeJSON(w, summaries)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := s.reporter.ProcessDue(r.Context(), time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PurgeExpired(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleBlockedList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.blocked.Addresses())
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(mux.Vars(r)["ip"])
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	s.blocked.Block(addr)
	writeJSON(w, map[string]string{"status": "blocked"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
