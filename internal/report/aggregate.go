package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/busybox42/tlsrptd/internal/metrics"
	"github.com/busybox42/tlsrptd/internal/storage"
)

// sizeTracker accumulates the serialized size of a report as it is
// assembled, against the configured cap. Events that would push the
// total past the cap are silently dropped, modeling a wire-size limit.
type sizeTracker struct {
	limit int
	used  int
}

// track serializes v and charges its size against the budget, reporting
// whether it fit.
func (t *sizeTracker) track(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if t.used+len(data) > t.limit {
		return false
	}
	t.used += len(data)
	return true
}

// GenerateReport assembles and delivers one report for all of a domain's
// due groups. Every outcome, including unrecoverable read errors and
// exhausted recipients, ends with the group's stored state deleted;
// failed deliveries forfeit the report rather than re-enqueue it.
func (r *Reporter) GenerateReport(ctx context.Context, domain string, events []ReportEvent) {
	if len(events) == 0 {
		return
	}
	windowStart, windowEnd, policyHash := events[0].SeqID, events[0].Due, events[0].PolicyHash

	logger := r.logger.With(
		"domain", domain,
		"range_from", windowStart,
		"range_to", windowEnd,
	)

	out := Report{
		OrganizationName: r.config.OrgName,
		DateRange: DateRange{
			StartDatetime: time.Unix(int64(windowStart), 0).UTC(),
			EndDatetime:   time.Unix(int64(windowEnd), 0).UTC(),
		},
		ContactInfo: r.config.ContactInfo,
		ReportID:    fmt.Sprintf("%d_%d", windowStart, policyHash),
		Policies:    make([]PolicyResult, 0, len(events)),
	}

	budget := &sizeTracker{limit: r.config.MaxSize}
	budget.track(out)

	var rua []ReportURI
	for _, event := range events {
		header, ok := r.readHeader(ctx, logger, event)
		if !ok {
			continue
		}
		budget.track(header)

		policy, err := r.aggregateGroup(ctx, logger, event, header, budget)
		if err != nil {
			logger.Warn("failed to read report events", "error", err)
		}
		out.Policies = append(out.Policies, policy)
		rua = header.RUA
	}

	if len(out.Policies) == 0 {
		// This should not happen in a correct system.
		logger.Warn("no policies found in report, discarding")
		metrics.Get().ReportsEmpty.Inc()
		r.DeleteReport(ctx, events)
		return
	}

	metrics.Get().ReportsGenerated.Inc()
	r.deliver(ctx, logger, domain, out, rua)
	r.DeleteReport(ctx, events)
}

func (r *Reporter) readHeader(ctx context.Context, logger *slog.Logger, event ReportEvent) (reportHeader, bool) {
	var header reportHeader
	value, err := r.store.Get(ctx, event.HeaderKey())
	if err != nil {
		logger.Warn("failed to read report header", "error", err)
		return header, false
	}
	if err := json.Unmarshal(value, &header); err != nil {
		logger.Warn("failed to decode report header", "error", err)
		metrics.Get().RecordsSkipped.Inc()
		return header, false
	}
	return header, true
}

// aggregateGroup scans one group's events in ascending sequence order,
// collapsing identical failure shapes into single records with
// occurrence counts. Success sentinels increment the summary counter
// instead of producing records. The scan stops once the serialized-size
// budget is exhausted; the partial report is acceptable.
func (r *Reporter) aggregateGroup(ctx context.Context, logger *slog.Logger, event ReportEvent, header reportHeader, budget *sizeTracker) (PolicyResult, error) {
	var totalSuccess, totalFailure uint32
	counts := make(map[FailureDetails]uint32)
	order := make([]FailureDetails, 0, 16)

	err := r.store.Iterate(ctx,
		storage.IterateParams{
			From:      event.groupFloor(),
			To:        event.groupCeiling(),
			Ascending: true,
		},
		func(_, value []byte) (bool, error) {
			var failure *FailureDetails
			if err := json.Unmarshal(value, &failure); err != nil {
				// Skip the corrupted record, the rest of the group proceeds.
				logger.Warn("skipping corrupted report event", "error", err)
				metrics.Get().RecordsSkipped.Inc()
				return true, nil
			}

			if failure == nil {
				totalSuccess++
				return true, nil
			}

			shape := *failure
			shape.FailedSessionCount = 0
			if _, seen := counts[shape]; seen {
				counts[shape]++
				totalFailure++
				return true, nil
			}
			if !budget.track(shape) {
				return false, nil
			}
			counts[shape] = 1
			order = append(order, shape)
			totalFailure++
			return true, nil
		})

	details := make([]FailureDetails, 0, len(order))
	for _, shape := range order {
		shape.FailedSessionCount = counts[shape]
		details = append(details, shape)
	}

	return PolicyResult{
		Policy: header.Policy,
		Summary: Summary{
			TotalSuccess: totalSuccess,
			TotalFailure: totalFailure,
		},
		FailureDetails: details,
	}, err
}
