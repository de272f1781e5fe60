package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/busybox42/tlsrptd/internal/metrics"
)

// contentType identifies a gzip-compressed report body (RFC 8460).
const contentType = "application/tlsrpt+gzip"

// deliver serializes and compresses the report, tries each HTTP
// recipient in order, then falls back to one mail submission covering
// all mailbox recipients. Exhausting every channel is a non-fatal,
// logged outcome; the caller deletes the group's state regardless.
func (r *Reporter) deliver(ctx context.Context, logger *slog.Logger, domain string, out Report, rua []ReportURI) {
	raw, err := json.Marshal(out)
	if err != nil {
		logger.Error("failed to serialize report", "error", err)
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err == nil {
		err = gz.Close()
	}
	if err != nil {
		logger.Error("failed to compress report", "error", err)
		return
	}
	compressed := buf.Bytes()

	started := time.Now()
	defer func() {
		metrics.Get().DeliveryDuration.Observe(time.Since(started).Seconds())
	}()

	var mailboxes []string
	for _, uri := range rua {
		switch {
		case uri.IsHTTP():
			if r.postReport(ctx, logger, string(uri), compressed) {
				metrics.Get().ReportsDelivered.WithLabelValues("http").Inc()
				return
			}
		case uri.IsMail():
			mailboxes = append(mailboxes, uri.Mailbox())
		}
	}

	if len(mailboxes) == 0 {
		logger.Info("no valid recipients found to deliver report to")
		metrics.Get().ReportsForfeited.Inc()
		return
	}

	message, err := r.composeMessage(domain, out, mailboxes, compressed)
	if err != nil {
		logger.Error("failed to compose report message", "error", err)
		metrics.Get().ReportsForfeited.Inc()
		return
	}
	if err := r.submitter.Submit(ctx, r.config.FromAddress, mailboxes, message); err != nil {
		logger.Warn("report mail submission failed",
			"recipients", mailboxes, "error", err)
		metrics.Get().DeliveryFailures.Inc()
		metrics.Get().ReportsForfeited.Inc()
		return
	}
	metrics.Get().ReportsDelivered.WithLabelValues("mail").Inc()
}

// postReport attempts one HTTP delivery, wrapped in a per-endpoint
// circuit breaker so repeatedly dead endpoints are skipped quickly.
func (r *Reporter) postReport(ctx context.Context, logger *slog.Logger, uri string, body []byte) bool {
	_, err := r.breaker(uri).Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("User-Agent", userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &httpStatusError{status: resp.StatusCode}
		}
		return nil, nil
	})
	if err != nil {
		logger.Debug("http report delivery failed", "url", uri, "error", err)
		metrics.Get().DeliveryFailures.Inc()
		return false
	}

	logger.Info("report delivered over http", "url", uri)
	return true
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func (r *Reporter) breaker(uri string) *gobreaker.CircuitBreaker {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()

	if cb, ok := r.breakers[uri]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     uri,
		Interval: time.Hour,
		Timeout:  10 * time.Minute,
	})
	r.breakers[uri] = cb
	return cb
}
