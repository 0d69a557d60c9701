package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/habitloop/notifier/internal/logstore"
	"github.com/habitloop/notifier/internal/metrics"
	"github.com/habitloop/notifier/internal/models"
	"github.com/habitloop/notifier/internal/transport"
)

// RecipientSource loads recipient records for delivery.
type RecipientSource interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.Recipient, error)
}

// Resolver expands a segment descriptor into recipient IDs.
type Resolver interface {
	Validate(seg models.SegmentDescriptor) error
	Resolve(ctx context.Context, seg models.SegmentDescriptor) ([]string, error)
}

// DeliveryLog is the durable audit trail for delivery attempts.
type DeliveryLog interface {
	Append(ctx context.Context, e *logstore.Entry) error
	PutRollup(ctx context.Context, r *logstore.Rollup) error
}

// Transport delivers a payload to one recipient over a channel.
type Transport interface {
	Deliver(ctx context.Context, channel string, rec *models.Recipient, payload *transport.Payload) error
}

// DispatcherConfig wires the dispatcher's collaborators and tuning knobs.
type DispatcherConfig struct {
	Notifications  NotificationStore
	Recipients     RecipientSource
	Resolver       Resolver
	Logs           DeliveryLog
	Transport      Transport
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Concurrency    int
	AttemptTimeout time.Duration
	StaleClaim     time.Duration
}

// Dispatcher runs the resolve -> deliver -> log -> advance pipeline for
// scheduled notifications and ad hoc segment sends.
type Dispatcher struct {
	notifications  NotificationStore
	recipients     RecipientSource
	resolver       Resolver
	logs           DeliveryLog
	transport      Transport
	scanner        *Scanner
	metrics        *metrics.Metrics
	logger         *slog.Logger
	concurrency    int
	attemptTimeout time.Duration
	staleClaim     time.Duration
	nowFn          func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, scanner *Scanner) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.StaleClaim <= 0 {
		cfg.StaleClaim = 10 * time.Minute
	}

	return &Dispatcher{
		notifications:  cfg.Notifications,
		recipients:     cfg.Recipients,
		resolver:       cfg.Resolver,
		logs:           cfg.Logs,
		transport:      cfg.Transport,
		scanner:        scanner,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		attemptTimeout: cfg.AttemptTimeout,
		staleClaim:     cfg.StaleClaim,
		nowFn:          time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (d *Dispatcher) SetNow(fn func() time.Time) {
	d.nowFn = fn
}

// Process runs the full pipeline for one notification by id.
func (d *Dispatcher) Process(ctx context.Context, id string) (*models.DeliveryResult, error) {
	n, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load notification", Err: err}
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	return d.process(ctx, n)
}

// ProcessAll scans for due notifications and processes each independently.
// A single notification's failure is reported in the result, never raised.
func (d *Dispatcher) ProcessAll(ctx context.Context, now time.Time) (*models.RunResult, error) {
	due, err := d.scanner.FindDue(ctx, now)
	if err != nil {
		return nil, &PersistenceError{Op: "scan due notifications", Err: err}
	}
	d.metrics.DueBacklog.Set(float64(len(due)))

	run := &models.RunResult{Results: []models.DeliveryResult{}}
	for i := range due {
		n := due[i]

		res, err := d.process(ctx, &n)
		if err != nil {
			if errors.Is(err, ErrNotEligible) {
				// lost the claim to a concurrent invocation; not an error
				continue
			}
			run.Errors = append(run.Errors, models.ProcessError{
				NotificationID: n.ID,
				Error:          err.Error(),
			})
			d.logger.Warn("notification processing failed",
				"notification_id", n.ID, "error", err)
			continue
		}

		run.Results = append(run.Results, *res)
		run.ProcessedCount++
	}

	return run, nil
}

func (d *Dispatcher) process(ctx context.Context, n *models.ScheduledNotification) (*models.DeliveryResult, error) {
	start := d.nowFn()

	claimed, err := d.notifications.Claim(ctx, n.ID, start, start.Add(-d.staleClaim))
	if err != nil {
		return nil, &PersistenceError{Op: "claim notification", Err: err}
	}
	if !claimed {
		d.metrics.ClaimConflictsTotal.Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, n.ID)
	}

	ids, err := d.resolver.Resolve(ctx, n.Segment)
	if err != nil {
		// nothing delivered or logged yet; hand the claim back
		d.releaseClaim(ctx, n.ID)
		d.metrics.NotificationsProcessedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	recipients, err := d.recipients.GetByIDs(ctx, ids)
	if err != nil {
		d.releaseClaim(ctx, n.ID)
		d.metrics.NotificationsProcessedTotal.WithLabelValues("error").Inc()
		return nil, &PersistenceError{Op: "load recipients", Err: err}
	}

	payload := &transport.Payload{
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
	}

	outcomes, err := d.deliverAll(ctx, n.ID, n.Channel, recipients, payload)
	if err != nil {
		// delivery attempts may have gone out but the audit trail is
		// incomplete; keep the claim so the stale-claim rule re-exposes
		// the notification (at-least-once).
		d.metrics.NotificationsProcessedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &models.DeliveryResult{
		NotificationID: n.ID,
		TotalTargeted:  len(recipients),
		Outcomes:       outcomes,
		ProcessedAt:    d.nowFn(),
	}
	for _, o := range outcomes {
		if o.Status == models.OutcomeSent {
			result.SuccessfulDeliveries++
		} else {
			result.FailedDeliveries++
		}
	}

	rollup := &logstore.Rollup{
		NotificationID:       n.ID,
		TotalTargeted:        result.TotalTargeted,
		SuccessfulDeliveries: result.SuccessfulDeliveries,
		FailedDeliveries:     result.FailedDeliveries,
		ProcessedAt:          result.ProcessedAt,
	}
	if err := d.logs.PutRollup(ctx, rollup); err != nil {
		d.metrics.NotificationsProcessedTotal.WithLabelValues("error").Inc()
		return nil, &PersistenceError{Op: "store rollup", Err: err}
	}

	// Advance only after every attempt is recorded. If this write fails the
	// notification stays claimed and is re-picked-up once the claim goes
	// stale, favoring re-delivery over silent schedule drift.
	status, nextAt := nextSchedule(n.Frequency, n.ScheduledAt, start)
	if err := d.notifications.Advance(ctx, n.ID, status, nextAt, start); err != nil {
		d.metrics.NotificationsProcessedTotal.WithLabelValues("error").Inc()
		return nil, &PersistenceError{Op: "advance schedule", Err: err}
	}

	d.metrics.NotificationsProcessedTotal.WithLabelValues("processed").Inc()
	d.metrics.ProcessDurationSeconds.Observe(d.nowFn().Sub(start).Seconds())

	d.logger.Info("notification processed",
		"notification_id", n.ID,
		"targeted", result.TotalTargeted,
		"sent", result.SuccessfulDeliveries,
		"failed", result.FailedDeliveries,
		"next_status", status,
	)

	return result, nil
}

// SendToSegment resolves a segment and delivers to it without touching any
// scheduled notification. Validation failures happen before anything is
// written.
func (d *Dispatcher) SendToSegment(ctx context.Context, seg models.SegmentDescriptor, channel string, payload *transport.Payload) (*models.SegmentSendResult, error) {
	ids, err := d.resolver.Resolve(ctx, seg)
	if err != nil {
		return nil, err
	}

	recipients, err := d.recipients.GetByIDs(ctx, ids)
	if err != nil {
		return nil, &PersistenceError{Op: "load recipients", Err: err}
	}

	if channel == "" {
		channel = models.ChannelPush
	}

	// Ad hoc sends get a synthetic reference so their log entries group.
	ref := "adhoc-" + uuid.New().String()

	outcomes, err := d.deliverAll(ctx, ref, channel, recipients, payload)
	if err != nil {
		return nil, err
	}

	result := &models.SegmentSendResult{TotalTargeted: len(recipients)}
	for _, o := range outcomes {
		if o.Status == models.OutcomeSent {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}

	d.logger.Info("segment send completed",
		"segment", seg.Type,
		"targeted", result.TotalTargeted,
		"sent", result.SuccessCount,
		"failed", result.FailureCount,
	)

	return result, nil
}

type attemptResult struct {
	outcome    models.RecipientOutcome
	persistErr error
}

// deliverAll fans delivery out over a bounded worker pool. Each attempt is
// isolated: a failing recipient is counted, logged and never aborts the
// batch. Counts come from reducing collected results, not shared counters.
func (d *Dispatcher) deliverAll(ctx context.Context, ref, channel string, recipients []models.Recipient, payload *transport.Payload) ([]models.RecipientOutcome, error) {
	results := make(chan attemptResult, len(recipients))
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for i := range recipients {
		rec := recipients[i]

		sem <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			res := attemptResult{
				outcome: models.RecipientOutcome{
					RecipientID: rec.ID,
					Status:      models.OutcomeSent,
				},
			}

			attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
			err := d.transport.Deliver(attemptCtx, channel, &rec, payload)
			cancel()

			if err != nil {
				res.outcome.Status = models.OutcomeFailed
				res.outcome.Error = err.Error()
				d.logger.Debug("delivery failed",
					"ref", ref, "recipient_id", rec.ID, "error", err)
			}
			d.metrics.DeliveriesTotal.WithLabelValues(channel, res.outcome.Status).Inc()

			entry := &logstore.Entry{
				NotificationID: ref,
				RecipientID:    rec.ID,
				Channel:        channel,
				Status:         res.outcome.Status,
				Error:          res.outcome.Error,
				Timestamp:      d.nowFn(),
			}
			if err := d.logs.Append(ctx, entry); err != nil {
				res.persistErr = err
			}

			results <- res
		}()
	}

	wg.Wait()
	close(results)

	outcomes := make([]models.RecipientOutcome, 0, len(recipients))
	var persistErr error
	for res := range results {
		if res.persistErr != nil && persistErr == nil {
			persistErr = &PersistenceError{Op: "append delivery log", Err: res.persistErr}
		}
		outcomes = append(outcomes, res.outcome)
	}
	if persistErr != nil {
		return nil, persistErr
	}

	return outcomes, nil
}

func (d *Dispatcher) releaseClaim(ctx context.Context, id string) {
	if err := d.notifications.Release(ctx, id); err != nil {
		d.logger.Error("failed to release claim", "notification_id", id, "error", err)
	}
}

// nextSchedule computes the post-run lifecycle state. One-shots complete;
// recurring entries advance until the next fire time is in the future, so a
// backlog of missed recurrences collapses into a single send.
func nextSchedule(frequency string, scheduledAt, now time.Time) (string, *time.Time) {
	if frequency == models.FrequencyOnce {
		return models.StatusCompleted, nil
	}

	next := scheduledAt
	for !next.After(now) {
		switch frequency {
		case models.FrequencyDaily:
			next = next.AddDate(0, 0, 1)
		case models.FrequencyWeekly:
			next = next.AddDate(0, 0, 7)
		case models.FrequencyMonthly:
			next = next.AddDate(0, 1, 0)
		default:
			// unknown frequency behaves like a one-shot
			return models.StatusCompleted, nil
		}
	}
	return models.StatusActive, &next
}
