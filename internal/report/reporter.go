package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/busybox42/tlsrptd/internal/idgen"
	"github.com/busybox42/tlsrptd/internal/metrics"
	"github.com/busybox42/tlsrptd/internal/storage"
)

const (
	// defaultMaxSize caps a report's serialized size.
	defaultMaxSize = 25 * 1024 * 1024

	// httpTimeout bounds one HTTP delivery attempt.
	httpTimeout = 2 * time.Minute

	// maxParallelDomains bounds concurrent per-domain report generation.
	maxParallelDomains = 4

	userAgent = "tlsrptd"
)

// Config holds the report generation settings.
type Config struct {
	OrgName     string
	ContactInfo string
	FromName    string
	FromAddress string
	Submitter   string
	MaxSize     int
	Interval    time.Duration
}

// Submitter hands a composed report message to the mail-transmission
// collaborator for delivery to all recipients at once.
type Submitter interface {
	Submit(ctx context.Context, from string, recipients []string, message []byte) error
}

// Event is one completed verification outcome handed in by a protocol
// engine. A nil Failure records a successful session.
type Event struct {
	Domain   string
	Policy   PolicySource
	RUA      []ReportURI
	Failure  *FailureDetails
	Interval time.Duration
}

// Reporter owns the report event log and the aggregation-and-delivery
// pipeline on top of it. Groups are independent units of work; a
// Reporter holds no mutable state shared across aggregation runs beyond
// the store itself.
type Reporter struct {
	config    Config
	store     storage.Backend
	ids       idgen.Source
	submitter Submitter
	client    *http.Client
	logger    *slog.Logger

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewReporter creates a reporter over the given event-log store.
func NewReporter(config Config, store storage.Backend, ids idgen.Source, submitter Submitter) *Reporter {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.FromAddress == "" {
		config.FromAddress = "MAILER-DAEMON@localhost"
	}
	if config.FromName == "" {
		config.FromName = "Mail Delivery Subsystem"
	}
	if config.Submitter == "" {
		config.Submitter = "localhost"
	}
	return &Reporter{
		config:    config,
		store:     store,
		ids:       ids,
		submitter: submitter,
		client:    &http.Client{Timeout: httpTimeout},
		logger:    slog.Default().With("component", "report"),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ScheduleEvent appends one observed outcome to the event log. The first
// event of a group also writes the group's header (policy metadata) and
// its companion lock marker, atomically in the same batch as the event
// itself, so racing first writers cannot corrupt the header.
func (r *Reporter) ScheduleEvent(ctx context.Context, event Event) error {
	interval := event.Interval
	if interval <= 0 {
		interval = r.config.Interval
	}
	intervalSecs := uint64(interval / time.Second)
	if intervalSecs == 0 {
		// Windows are aligned on whole seconds; shorter intervals round up.
		intervalSecs = 1
	}
	created := uint64(time.Now().Unix()) / intervalSecs * intervalSecs
	due := created + intervalSecs

	details := event.Policy.Details(event.Domain)
	group := ReportEvent{
		Domain:     event.Domain,
		PolicyHash: details.Hash(),
		Due:        due,
		SeqID:      created,
	}

	batch := storage.NewBatch()
	if _, err := r.store.Get(ctx, group.HeaderKey()); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("failed to read report header",
				"domain", event.Domain, "error", err)
		}
		header, err := json.Marshal(reportHeader{
			RUA:     event.RUA,
			Policy:  details,
			Records: []FailureDetails{},
		})
		if err != nil {
			return err
		}
		batch.Set(group.HeaderKey(), header)
		batch.Set(group.LockKey(), make([]byte, storage.U64Len))
	}

	seqID, err := r.ids.NextID()
	if err != nil {
		// Id source exhausted or unavailable, fall back to wall clock.
		seqID = uint64(time.Now().Unix())
	}
	entry := group
	entry.SeqID = seqID

	payload, err := json.Marshal(event.Failure)
	if err != nil {
		return err
	}
	batch.Set(entry.EventKey(), payload)

	if err := r.store.Write(ctx, batch); err != nil {
		metrics.Get().ScheduleErrors.Inc()
		r.logger.Error("failed to write report event",
			"domain", event.Domain, "error", err)
		return err
	}

	metrics.Get().EventsScheduled.Inc()
	return nil
}

// DueGroups scans the event-log headers and returns all groups whose
// aggregation window closed at or before now, grouped by domain.
func (r *Reporter) DueGroups(ctx context.Context, now time.Time) (map[string][]ReportEvent, error) {
	from, to := storage.ClassRange(storage.ClassReportHeader)
	due := make(map[string][]ReportEvent)
	nowSecs := uint64(now.Unix())

	err := r.store.Iterate(ctx, storage.IterateParams{From: from, To: to, Ascending: true},
		func(key, value []byte) (bool, error) {
			event, err := DecodeEventKey(storage.ClassReportHeader, key)
			if err != nil {
				r.logger.Warn("skipping corrupted report header key", "error", err)
				metrics.Get().RecordsSkipped.Inc()
				return true, nil
			}
			if event.Due <= nowSecs {
				due[event.Domain] = append(due[event.Domain], event)
			}
			return true, nil
		})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// ProcessDue generates and delivers all reports whose windows have
// closed, domains in parallel. Triggered by the external scheduler; the
// reporter never self-schedules.
func (r *Reporter) ProcessDue(ctx context.Context, now time.Time) error {
	due, err := r.DueGroups(ctx, now)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelDomains)
	for domain, events := range due {
		domain, events := domain, events
		group.Go(func() error {
			r.GenerateReport(ctx, domain, events)
			return nil
		})
	}
	return group.Wait()
}

// DeleteReport removes a group's events, header and lock marker. It is
// idempotent: deleting an already-deleted group is a no-op.
func (r *Reporter) DeleteReport(ctx context.Context, events []ReportEvent) {
	batch := storage.NewBatch()

	for pos, event := range events {
		if err := r.store.DeleteRange(ctx, event.groupFloor(), event.groupCeiling()); err != nil {
			r.logger.Warn("failed to remove report events",
				"domain", event.Domain, "error", err)
			return
		}

		if pos == 0 {
			batch.Clear(event.LockKey())
		}
		batch.Clear(event.HeaderKey())
	}

	if batch.Len() > 0 {
		if err := r.store.Write(ctx, batch); err != nil {
			r.logger.Warn("failed to remove report headers", "error", err)
		}
	}
}
