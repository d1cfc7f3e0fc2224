package sync

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope       = "calendarrelay/sync"
	spanSync        = "calendarrelay.sync"
	spanMeetLink    = "calendarrelay.meet_link"
	spanRemove      = "calendarrelay.remove"
	metricPushed    = "calendarrelay.sync.pushed"
	metricPulled    = "calendarrelay.sync.pulled"
	metricConflicts = "calendarrelay.sync.conflicts"
	metricErrors    = "calendarrelay.sync.errors"
)

// Engine is the entry point used by the HTTP API and the CLI. It runs the
// [Reconciler] operations inside trace spans and records sync counters.
type Engine struct {
	reconciler *Reconciler
	log        *slog.Logger

	// OTel instruments; always non-nil, no-ops when telemetry is disabled.
	tracer       trace.Tracer
	cntPushed    metric.Int64Counter
	cntPulled    metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// NewEngine creates an Engine using the global OTel providers.
func NewEngine(reconciler *Reconciler, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		log:        logger,

		tracer:       tracer,
		cntPushed:    mustCounter(metricPushed, "Number of entries pushed to Google"),
		cntPulled:    mustCounter(metricPulled, "Number of entries pulled from Google"),
		cntConflicts: mustCounter(metricConflicts, "Number of conflicts resolved during sync"),
		cntErrors:    mustCounter(metricErrors, "Number of failed operations during sync"),
	}
}

// Sync runs one reconcile pass for the user's event.
func (e *Engine) Sync(ctx context.Context, userID, eventID string) (SyncResult, error) {
	ctx, span := e.tracer.Start(ctx, spanSync, trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	))
	defer span.End()

	result, err := e.reconciler.SyncCalendarEvents(ctx, userID, eventID)

	// Counters are safe to record even when the span is a no-op.
	if result.PushedToGoogle > 0 {
		e.cntPushed.Add(ctx, int64(result.PushedToGoogle))
	}
	if result.PulledFromGoogle > 0 {
		e.cntPulled.Add(ctx, int64(result.PulledFromGoogle))
	}
	if result.Conflicts > 0 {
		e.cntConflicts.Add(ctx, int64(result.Conflicts))
	}
	if n := len(result.Errors); n > 0 {
		e.cntErrors.Add(ctx, int64(n))
	}

	span.SetAttributes(
		attribute.Int("sync.pushed", result.PushedToGoogle),
		attribute.Int("sync.pulled", result.PulledFromGoogle),
		attribute.Int("sync.conflicts", result.Conflicts),
		attribute.Int("sync.errors", len(result.Errors)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// AddMeetLink returns the Meet link for an entry, creating the Google event
// if the entry was never synced.
func (e *Engine) AddMeetLink(ctx context.Context, userID, entryID string) (string, error) {
	ctx, span := e.tracer.Start(ctx, spanMeetLink, trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("entry_id", entryID),
	))
	defer span.End()

	link, err := e.reconciler.AddMeetLinkToEvent(ctx, userID, entryID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("meet_link.present", link != ""))
	return link, err
}

// Remove deletes an entry and its Google event.
func (e *Engine) Remove(ctx context.Context, userID, entryID string) error {
	ctx, span := e.tracer.Start(ctx, spanRemove, trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("entry_id", entryID),
	))
	defer span.End()

	if err := e.reconciler.RemoveEntry(ctx, userID, entryID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
