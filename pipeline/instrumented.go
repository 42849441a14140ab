package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mealsense"
)

// InstrumentedPipeline wraps Pipeline with tracing and metrics. Behavior is
// identical; only observability is added.
type InstrumentedPipeline struct {
	*Pipeline
	tracer trace.Tracer
	meter  metric.Meter
}

func NewInstrumented(p *Pipeline, tracer trace.Tracer, meter metric.Meter) *InstrumentedPipeline {
	return &InstrumentedPipeline{Pipeline: p, tracer: tracer, meter: meter}
}

func (ip *InstrumentedPipeline) Run(ctx context.Context, in Input) (mealsense.AnalysisRecord, error) {
	ctx, span := ip.tracer.Start(ctx, "Pipeline.Run")
	defer span.End()

	analysesCounter, _ := ip.meter.Int64Counter("analyses_total",
		metric.WithDescription("Total number of meal analyses started"))
	analysesCompletedCounter, _ := ip.meter.Int64Counter("analyses_completed_total",
		metric.WithDescription("Total number of meal analyses completed"))
	analysesFailedCounter, _ := ip.meter.Int64Counter("analyses_failed_total",
		metric.WithDescription("Total number of meal analyses that failed"))
	quotaDeniedCounter, _ := ip.meter.Int64Counter("quota_denied_total",
		metric.WithDescription("Total number of analyses denied by the daily quota"))
	conflictsCounter, _ := ip.meter.Int64Counter("conflicts_detected_total",
		metric.WithDescription("Total number of note conflicts detected"))
	fallbacksCounter, _ := ip.meter.Int64Counter("inference_fallbacks_total",
		metric.WithDescription("Total number of analyses that fell back to manual entry"))

	itemsGauge, _ := ip.meter.Int64Gauge("analysis_items_count",
		metric.WithDescription("Number of items in the latest analysis"))
	confidenceGauge, _ := ip.meter.Int64Gauge("analysis_confidence",
		metric.WithDescription("Overall confidence of the latest analysis"))

	analysisDurationHist, _ := ip.meter.Float64Histogram("analysis_duration_seconds",
		metric.WithDescription("Total duration of one analysis in seconds"))

	analysesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("meal_type", string(in.MealType)),
		attribute.Bool("has_photo", len(in.ImageData) > 0),
	))

	start := time.Now()
	rec, err := ip.Pipeline.Run(ctx, in)
	analysisDurationHist.Record(ctx, time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("analysis_id", rec.ID),
		attribute.String("status", string(rec.Status)),
		attribute.Int("items_count", len(rec.Items)),
		attribute.Int("conflicts_count", len(rec.Conflicts)),
		attribute.Int("confidence", rec.Confidence),
	)

	if err != nil {
		if _, denied := err.(*mealsense.QuotaExceededError); denied {
			quotaDeniedCounter.Add(ctx, 1)
		} else {
			analysesFailedCounter.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, "Analysis failed")
		span.RecordError(err)
		return rec, err
	}

	analysesCompletedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(rec.Status)),
	))
	itemsGauge.Record(ctx, int64(len(rec.Items)))
	confidenceGauge.Record(ctx, int64(rec.Confidence))
	if len(rec.Conflicts) > 0 {
		conflictsCounter.Add(ctx, int64(len(rec.Conflicts)))
	}
	if rec.Raw.Fallback {
		fallbacksCounter.Add(ctx, 1)
	}

	span.AddEvent("Analysis complete", trace.WithAttributes(
		attribute.String("status", string(rec.Status)),
		attribute.Float64("analysis_duration_seconds", time.Since(start).Seconds()),
	))
	return rec, nil
}

func (ip *InstrumentedPipeline) SaveMeal(ctx context.Context, analysisID string, loggedAt time.Time) (mealsense.MealLog, bool, error) {
	ctx, span := ip.tracer.Start(ctx, "Pipeline.SaveMeal")
	defer span.End()

	savesCounter, _ := ip.meter.Int64Counter("meal_saves_total",
		metric.WithDescription("Total number of meal save attempts"))
	duplicatesCounter, _ := ip.meter.Int64Counter("meal_saves_duplicate_total",
		metric.WithDescription("Total number of save attempts answered from the idempotency key"))

	savesCounter.Add(ctx, 1)
	meal, isDuplicate, err := ip.Pipeline.SaveMeal(ctx, analysisID, loggedAt)
	if err != nil {
		span.SetStatus(codes.Error, "Save failed")
		span.RecordError(err)
		return meal, isDuplicate, err
	}
	if isDuplicate {
		duplicatesCounter.Add(ctx, 1)
	}
	span.SetAttributes(
		attribute.String("meal_id", meal.ID),
		attribute.Bool("duplicate", isDuplicate),
	)
	return meal, isDuplicate, nil
}
