// Package pipeline reconciles one meal analysis end to end: note
// normalization, quota, model inference, catalog mapping, portion
// resolution, confidence scoring, conflict detection and the final
// idempotent save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"mealsense"
	"mealsense/confidence"
	"mealsense/conflict"
	"mealsense/identity"
	"mealsense/inference"
	"mealsense/normalize"
	"mealsense/portion"
	"mealsense/quota"
)

// placeholderConfidence marks a manual-entry fallback item produced when
// the model's output never parsed.
const placeholderConfidence = 25

// defaultInferenceTimeout caps the model call when no timeout is configured.
const defaultInferenceTimeout = 10 * time.Second

// Pipeline wires the stages together. All collaborators are injected;
// nothing is constructed internally so tests can swap any stage.
type Pipeline struct {
	adapter  mealsense.InferenceAdapter
	identity *identity.Resolver
	portions *portion.Resolver
	detector *conflict.Detector
	gate     *quota.Gate
	meals    mealsense.MealStore
	priors   mealsense.PriorStore
	analyses mealsense.AnalysisStore
	notifier mealsense.Notifier
	logger   mealsense.AnalysisLogger
	synonyms normalize.SynonymTable
	retry    inference.RetryPolicy
	cfg      mealsense.PipelineConfig

	now   func() time.Time
	newID func() string
}

type Options struct {
	Adapter  mealsense.InferenceAdapter
	Identity *identity.Resolver
	Portions *portion.Resolver
	Detector *conflict.Detector
	Gate     *quota.Gate
	Meals    mealsense.MealStore
	Priors   mealsense.PriorStore
	Analyses mealsense.AnalysisStore
	Notifier mealsense.Notifier
	Logger   mealsense.AnalysisLogger
	Synonyms normalize.SynonymTable
	Retry    inference.RetryPolicy
	Config   mealsense.PipelineConfig
}

func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = mealsense.NewNoOpAnalysisLogger()
	}
	if opts.Synonyms == nil {
		opts.Synonyms = normalize.DefaultSynonyms()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = inference.DefaultRetryPolicy()
	}
	return &Pipeline{
		adapter:  opts.Adapter,
		identity: opts.Identity,
		portions: opts.Portions,
		detector: opts.Detector,
		gate:     opts.Gate,
		meals:    opts.Meals,
		priors:   opts.Priors,
		analyses: opts.Analyses,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		synonyms: opts.Synonyms,
		retry:    opts.Retry,
		cfg:      opts.Config,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the time source for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WithIDSource overrides the id generator for tests.
func (p *Pipeline) WithIDSource(newID func() string) *Pipeline {
	p.newID = newID
	return p
}

// Input is one analysis request: a photo, a text description, or both a
// photo and a short free-text note.
type Input struct {
	UserID       string
	Premium      bool
	MealType     mealsense.MealType
	Region       string
	DietaryPrefs []string
	PhotoRef     string
	ImageData    []byte
	ImageFormat  string
	Text         string
	Note         string
}

// Run executes the analysis up to the save boundary. The returned record is
// in StatusAwaitingUser when conflicts need the user's choice, otherwise
// StatusReadyToSave. SaveMeal commits it.
func (p *Pipeline) Run(ctx context.Context, in Input) (mealsense.AnalysisRecord, error) {
	start := p.now()
	rec := mealsense.AnalysisRecord{
		ID:        p.newID(),
		UserID:    in.UserID,
		MealType:  in.MealType,
		Region:    in.Region,
		PhotoRef:  in.PhotoRef,
		Status:    mealsense.StatusReceived,
		CreatedAt: start,
		UpdatedAt: start,
	}
	if err := p.analyses.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist analysis: %w", err)
	}

	slog.Info("PIPELINE: Analysis started",
		"analysis_id", rec.ID, "user_id", in.UserID, "meal_type", in.MealType, "has_photo", len(in.ImageData) > 0)

	// Normalize the note before anything can act on it.
	p.transition(ctx, &rec, mealsense.StatusNormalizing, "")
	rec.Note = p.normalizeNote(in.Note)
	p.logStage(rec.ID, mealsense.StatusNormalizing, start, map[string]any{
		"language": rec.Note.Language, "truncated": rec.Note.Truncated, "quantities": len(rec.Note.Quantities),
	}, nil)

	// Quota is checked before the model is called and incremented only
	// after the model answers, so a failed call never burns quota.
	req := p.buildRequest(in, rec.Note)
	decision := p.gate.Check(ctx, in.UserID, req.QuotaType(), in.Premium)
	if !decision.Allowed {
		p.transition(ctx, &rec, mealsense.StatusFailed, "daily quota exceeded")
		return rec, &mealsense.QuotaExceededError{Decision: decision}
	}

	p.transition(ctx, &rec, mealsense.StatusInferring, "")
	inferStart := p.now()
	timeout := p.cfg.InferenceTimeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	// The deadline bounds the whole retry budget, not each attempt.
	inferCtx, cancelInfer := context.WithTimeout(ctx, timeout)
	result, err := p.retry.Analyze(inferCtx, p.adapter, req)
	cancelInfer()
	if err != nil {
		var parseErr *inference.ParseError
		if errors.As(err, &parseErr) {
			// The model answered but never produced valid output. Hand
			// the user a manual-entry placeholder instead of failing.
			slog.Warn("PIPELINE: Falling back to manual-entry placeholder", "analysis_id", rec.ID, "error", err)
			result = placeholderResult(in)
			rec.Warnings = append(rec.Warnings, "automatic analysis unavailable, please verify manually")
		} else {
			p.transition(ctx, &rec, mealsense.StatusFailed, err.Error())
			p.logStage(rec.ID, mealsense.StatusInferring, inferStart, nil, err)
			return rec, fmt.Errorf("inference: %w", err)
		}
	}
	rec.Raw = result
	p.logStage(rec.ID, mealsense.StatusInferring, inferStart, map[string]any{
		"items": len(result.Items), "model_version": result.ModelVersion, "fallback": result.Fallback,
	}, nil)

	if err := p.gate.Increment(ctx, in.UserID, req.QuotaType()); err != nil {
		// The analysis is already paid for; losing one count is better
		// than losing the result.
		slog.Warn("PIPELINE: Quota increment failed", "analysis_id", rec.ID, "error", err)
	}

	// Map each detected item to the catalog, resolve portions, score.
	p.transition(ctx, &rec, mealsense.StatusMapping, "")
	items, warnings, err := p.reconcile(ctx, &rec, in, result)
	if err != nil {
		p.transition(ctx, &rec, mealsense.StatusFailed, err.Error())
		return rec, err
	}
	rec.Items = items
	rec.Warnings = append(rec.Warnings, warnings...)
	rec.Confidence = overallConfidence(items)

	p.transition(ctx, &rec, mealsense.StatusConflictCheck, "")
	rec.Conflicts = p.detector.Detect(rec.Note.Sanitized, rec.Items)

	next := mealsense.StatusReadyToSave
	if len(rec.Conflicts) > 0 {
		next = mealsense.StatusAwaitingUser
	}
	p.transition(ctx, &rec, next, "")
	if err := p.analyses.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist analysis: %w", err)
	}

	slog.Info("PIPELINE: Analysis complete",
		"analysis_id", rec.ID, "status", rec.Status, "items", len(rec.Items),
		"conflicts", len(rec.Conflicts), "confidence", rec.Confidence,
		"duration_ms", p.now().Sub(start).Milliseconds())
	return rec, nil
}

func (p *Pipeline) normalizeNote(raw string) mealsense.UserNote {
	if raw == "" {
		return mealsense.UserNote{}
	}
	maxLen := p.cfg.NoteMaxLen
	if maxLen <= 0 {
		maxLen = 140
	}
	res := normalize.Note(raw, p.synonyms, maxLen)
	return mealsense.UserNote{
		Raw:        raw,
		Sanitized:  res.Text,
		Language:   res.Language,
		Truncated:  res.Truncated,
		Quantities: conflict.ParseQuantities(res.Text),
	}
}

func (p *Pipeline) buildRequest(in Input, note mealsense.UserNote) mealsense.InferenceRequest {
	return mealsense.InferenceRequest{
		UserID:       in.UserID,
		Text:         in.Text,
		ImageData:    in.ImageData,
		ImageFormat:  in.ImageFormat,
		MealType:     in.MealType,
		Region:       in.Region,
		DietaryPrefs: in.DietaryPrefs,
		AuxNote:      note.Sanitized,
	}
}

// reconcile turns raw detections into reconciled items: identity, portion
// and confidence per item.
func (p *Pipeline) reconcile(ctx context.Context, rec *mealsense.AnalysisRecord, in Input, result mealsense.InferenceResult) ([]mealsense.ReconciledItem, []string, error) {
	var warnings []string
	items := make([]mealsense.ReconciledItem, 0, len(result.Items))

	mapStart := p.now()
	matches := make([]identity.Match, 0, len(result.Items))
	for _, det := range result.Items {
		match, err := p.identity.Resolve(ctx, det.Name, in.Region, in.DietaryPrefs)
		if err != nil {
			return nil, nil, fmt.Errorf("identity for %q: %w", det.Name, err)
		}
		matches = append(matches, match)
	}
	p.logStage(rec.ID, mealsense.StatusMapping, mapStart, map[string]any{"items": len(result.Items)}, nil)

	p.transition(ctx, rec, mealsense.StatusPortionResolving, "")
	portionStart := p.now()
	resolutions := make([]portion.Resolution, 0, len(result.Items))
	for _, det := range result.Items {
		res, err := p.portions.ResolveGrams(ctx, in.UserID, det, noteCountFor(rec.Note.Quantities, det.Name))
		if err != nil {
			// A broken prior store degrades portions, it does not fail
			// the analysis.
			slog.Warn("PIPELINE: Portion prior unavailable", "analysis_id", rec.ID, "item", det.Name, "error", err)
			res = portion.Resolution{Grams: math.Round(det.PortionGrams)}
		}
		resolutions = append(resolutions, res)
	}
	p.logStage(rec.ID, mealsense.StatusPortionResolving, portionStart, nil, nil)

	p.transition(ctx, rec, mealsense.StatusScoringConfidence, "")
	for i, det := range result.Items {
		match, res := matches[i], resolutions[i]

		item := mealsense.ReconciledItem{
			Name:          det.Name,
			PortionGrams:  res.Grams,
			Confidence:    placeholderConfidence,
			NoteInfluence: mealsense.InfluenceNone,
		}
		if res.PresetApplied {
			item.NoteInfluence = mealsense.InfluencePortion
		}

		if match.Found {
			item.Name = match.Record.Name
			item.CatalogID = match.Record.ID
			item.Mapped = true
			// Catalog nutrition is authoritative for mapped items.
			item.Calories = match.Record.CaloriesPer100g * res.Grams / 100
			item.Macros = match.Record.MacrosPer100g.Scale(res.Grams / 100)
		} else {
			// Keep the model's estimate, rescaled to the resolved grams.
			item.Calories = det.Calories
			item.Macros = det.Macros
			scaled := item
			scaled.PortionGrams = det.PortionGrams
			scaled.RescaleTo(res.Grams)
			item = scaled
			warnings = append(warnings, fmt.Sprintf("%s is not in the food catalog; nutrition is a model estimate", det.Name))
		}

		if !result.Fallback {
			factors := mealsense.ConfidenceFactors{
				Model:   det.Confidence * 100,
				Mapping: float64(match.Confidence),
				Portion: confidence.PortionHeuristic(res.Grams, portion.ExpectedGrams(item, match.Record)),
				Context: confidence.ContextScore(in.Region),
			}
			item.Confidence = confidence.Score(factors)
			item.ConfidenceTrace = confidence.Trace(factors, item.Confidence)
		}
		if confidence.NeedsWarning(item.Confidence) {
			warnings = append(warnings, fmt.Sprintf("low confidence for %s, please verify", item.Name))
		}

		items = append(items, item)
	}
	return items, warnings, nil
}

// ResolveConflict applies the user's choice on one pending conflict. A
// name conflict resolved in the note's favor re-resolves identity and
// nutrition for the renamed item.
func (p *Pipeline) ResolveConflict(ctx context.Context, analysisID string, conflictIndex int, choice mealsense.ConflictResolution) (mealsense.AnalysisRecord, error) {
	rec, err := p.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return mealsense.AnalysisRecord{}, err
	}
	if conflictIndex < 0 || conflictIndex >= len(rec.Conflicts) {
		return rec, fmt.Errorf("conflict index %d out of range", conflictIndex)
	}

	c := &rec.Conflicts[conflictIndex]
	item := itemByName(rec.Items, c.ItemName)
	if item == nil {
		return rec, fmt.Errorf("conflict item %q no longer present", c.ItemName)
	}
	if err := conflict.Apply(c, item, choice); err != nil {
		return rec, err
	}

	if c.Type == mealsense.ConflictName && choice == mealsense.ResolutionNote {
		if err := p.renameItem(ctx, &rec, item, c.NoteTerm); err != nil {
			return rec, err
		}
	}

	rec.Confidence = overallConfidence(rec.Items)
	if !hasUnresolved(rec.Conflicts) {
		rec.Status = mealsense.StatusReadyToSave
	}
	rec.UpdatedAt = p.now()
	if err := p.analyses.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist analysis: %w", err)
	}

	slog.Info("PIPELINE: Conflict resolved",
		"analysis_id", analysisID, "index", conflictIndex, "choice", choice, "status", rec.Status)
	return rec, nil
}

func (p *Pipeline) renameItem(ctx context.Context, rec *mealsense.AnalysisRecord, item *mealsense.ReconciledItem, name string) error {
	match, err := p.identity.Resolve(ctx, name, rec.Region, nil)
	if err != nil {
		return fmt.Errorf("identity for %q: %w", name, err)
	}
	item.Name = name
	item.CatalogID = ""
	item.Mapped = false
	if match.Found {
		item.Name = match.Record.Name
		item.CatalogID = match.Record.ID
		item.Mapped = true
		item.Calories = match.Record.CaloriesPer100g * item.PortionGrams / 100
		item.Macros = match.Record.MacrosPer100g.Scale(item.PortionGrams / 100)
	}
	return nil
}

// EditItemPortion is the user's manual override of one item's portion.
// Nutrition rescales by per-gram density.
func (p *Pipeline) EditItemPortion(ctx context.Context, analysisID string, itemIndex int, grams float64) (mealsense.AnalysisRecord, error) {
	rec, err := p.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return mealsense.AnalysisRecord{}, err
	}
	if itemIndex < 0 || itemIndex >= len(rec.Items) {
		return rec, fmt.Errorf("item index %d out of range", itemIndex)
	}
	if grams <= 0 {
		return rec, fmt.Errorf("portion must be positive")
	}

	rec.Items[itemIndex].RescaleTo(grams)
	rec.Items[itemIndex].NoteInfluence = rec.Items[itemIndex].NoteInfluence.Merge(mealsense.InfluencePortion)
	rec.UpdatedAt = p.now()
	if err := p.analyses.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist analysis: %w", err)
	}
	return rec, nil
}

// SaveMeal commits a completed analysis. Unresolved conflicts default to
// the model value. The save is idempotent: a retry within the same minute
// returns the already-saved meal.
func (p *Pipeline) SaveMeal(ctx context.Context, analysisID string, loggedAt time.Time) (mealsense.MealLog, bool, error) {
	rec, err := p.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return mealsense.MealLog{}, false, err
	}
	switch rec.Status {
	case mealsense.StatusReadyToSave, mealsense.StatusAwaitingUser:
		// saving with pending conflicts keeps the model values
	case mealsense.StatusSaved:
		// fall through; the idempotency key returns the stored meal
	default:
		return mealsense.MealLog{}, false, fmt.Errorf("analysis %s not ready to save (status %s)", analysisID, rec.Status)
	}

	for i := range rec.Conflicts {
		if rec.Conflicts[i].Resolution == mealsense.ResolutionUnresolved {
			rec.Conflicts[i].Resolution = mealsense.ResolutionModel
		}
	}

	if loggedAt.IsZero() {
		loggedAt = p.now()
	}

	var totals mealsense.Macros
	var totalCalories float64
	for _, it := range rec.Items {
		totals = totals.Add(it.Macros)
		totalCalories += it.Calories
	}

	meal := mealsense.MealLog{
		ID:            p.newID(),
		UserID:        rec.UserID,
		MealType:      rec.MealType,
		PhotoRef:      rec.PhotoRef,
		LoggedAt:      loggedAt,
		TotalCalories: totalCalories,
		Totals:        totals,
		Items:         rec.Items,
		CreatedAt:     p.now(),
	}

	key := IdempotencyKey(rec.UserID, rec.MealType, rec.PhotoRef, rec.Items, loggedAt)
	saved, isDuplicate, err := p.meals.SaveIfAbsent(ctx, key, meal)
	if err != nil {
		return mealsense.MealLog{}, false, fmt.Errorf("save meal: %w", err)
	}

	if !isDuplicate {
		for _, it := range saved.Items {
			if it.PortionGrams <= 0 {
				continue
			}
			if err := p.priors.Record(ctx, rec.UserID, it.Name, it.PortionGrams); err != nil {
				slog.Warn("PIPELINE: Failed to record portion prior", "item", it.Name, "error", err)
			}
		}
		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, "meal logged",
				fmt.Sprintf("%s logged %s (%d kcal)", rec.UserID, rec.MealType, int(math.Round(totalCalories)))); err != nil {
				slog.Warn("PIPELINE: Notification failed", "error", err)
			}
		}
	}

	rec.Status = mealsense.StatusSaved
	rec.UpdatedAt = p.now()
	if err := p.analyses.Put(ctx, rec); err != nil {
		slog.Warn("PIPELINE: Failed to persist saved status", "analysis_id", analysisID, "error", err)
	}

	slog.Info("PIPELINE: Meal saved",
		"analysis_id", analysisID, "meal_id", saved.ID, "duplicate", isDuplicate, "calories", int(math.Round(saved.TotalCalories)))
	return saved, isDuplicate, nil
}

// GetAnalysis exposes one stored analysis snapshot.
func (p *Pipeline) GetAnalysis(ctx context.Context, id string) (mealsense.AnalysisRecord, error) {
	return p.analyses.GetAnalysis(ctx, id)
}

// History returns a user's saved meals for a date range, newest first.
func (p *Pipeline) History(ctx context.Context, userID string, from, to time.Time, limit int) ([]mealsense.MealLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.meals.RecentMeals(ctx, userID, from, to, limit)
}

func (p *Pipeline) transition(ctx context.Context, rec *mealsense.AnalysisRecord, status mealsense.AnalysisStatus, reason string) {
	rec.Status = status
	rec.FailReason = reason
	rec.UpdatedAt = p.now()
	if err := p.analyses.SetStatus(ctx, rec.ID, status, reason); err != nil {
		slog.Warn("PIPELINE: Failed to persist status", "analysis_id", rec.ID, "status", status, "error", err)
	}
}

func (p *Pipeline) logStage(analysisID string, stage mealsense.AnalysisStatus, start time.Time, detail map[string]any, err error) {
	entry := mealsense.StageLog{
		AnalysisID: analysisID,
		Stage:      stage,
		Timestamp:  p.now(),
		DurationMS: p.now().Sub(start).Milliseconds(),
		Detail:     detail,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := p.logger.LogStage(entry); lerr != nil {
		slog.Error("PIPELINE: Failed to log stage", "stage", stage, "error", lerr)
	}
}

func placeholderResult(in Input) mealsense.InferenceResult {
	name := "unidentified meal"
	if in.Text != "" {
		name = in.Text
	}
	return mealsense.InferenceResult{
		Items: []mealsense.DetectedItem{{
			Name:         name,
			PortionGrams: 0,
			Calories:     0,
			Confidence:   0,
		}},
		Explanation: "automatic analysis unavailable",
		Fallback:    true,
	}
}

func noteCountFor(quantities []mealsense.NoteQuantity, itemName string) float64 {
	for _, q := range quantities {
		if q.Food == "" {
			continue
		}
		if containsEitherWay(q.Food, itemName) {
			return q.Count
		}
	}
	return 0
}

func containsEitherWay(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func itemByName(items []mealsense.ReconciledItem, name string) *mealsense.ReconciledItem {
	for i := range items {
		if items[i].Name == name {
			return &items[i]
		}
	}
	// The item may have been renamed by an earlier name resolution; fall
	// back to containment.
	for i := range items {
		if containsEitherWay(items[i].Name, name) {
			return &items[i]
		}
	}
	return nil
}

func hasUnresolved(conflicts []mealsense.ConflictRecord) bool {
	for _, c := range conflicts {
		if c.Resolution == mealsense.ResolutionUnresolved {
			return true
		}
	}
	return false
}

func overallConfidence(items []mealsense.ReconciledItem) int {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += float64(it.Confidence)
	}
	return int(math.Round(sum / float64(len(items))))
}
