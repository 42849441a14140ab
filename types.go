package mealsense

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// InferenceAdapter runs one model call over a photo or free-text meal
// description and returns the parsed, schema-validated result.
type InferenceAdapter interface {
	Analyze(ctx context.Context, req InferenceRequest) (InferenceResult, error)
}

// CatalogSearcher is the read-only catalog collaborator. Results are
// candidates only; match scoring belongs to the identity resolver.
type CatalogSearcher interface {
	Search(ctx context.Context, name, region string, dietaryTags []string) ([]CanonicalFoodRecord, error)
}

// MealStore persists meal logs keyed by idempotency key. SaveIfAbsent must be
// atomic: two racing calls with the same key produce exactly one row, and the
// second caller gets the surviving row back with isDuplicate=true.
type MealStore interface {
	SaveIfAbsent(ctx context.Context, key string, meal MealLog) (saved MealLog, isDuplicate bool, err error)
	RecentMeals(ctx context.Context, userID string, from, to time.Time, limit int) ([]MealLog, error)
}

// PriorStore holds per-user historical portion averages.
type PriorStore interface {
	Get(ctx context.Context, userID, foodName string) (PortionPrior, bool, error)
	Record(ctx context.Context, userID, foodName string, portionGrams float64) error
}

// QuotaCounter is the backing store for daily usage counters. Increment must
// be atomic under concurrent requests from the same user.
type QuotaCounter interface {
	Counts(ctx context.Context, userID, day string) (QuotaState, error)
	Increment(ctx context.Context, userID string, quotaType QuotaType, day string) error
}

// AnalysisStore persists analysis snapshots and their status transitions.
type AnalysisStore interface {
	Put(ctx context.Context, rec AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (AnalysisRecord, error)
	SetStatus(ctx context.Context, id string, status AnalysisStatus, reason string) error
}

type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

type QuotaType string

const (
	QuotaVision QuotaType = "vision"
	QuotaText   QuotaType = "text"
)

type NoteInfluence string

const (
	InfluenceNone    NoteInfluence = "none"
	InfluenceName    NoteInfluence = "name"
	InfluencePortion NoteInfluence = "portion"
	InfluenceBoth    NoteInfluence = "both"
)

// Merge combines an existing influence with a newly applied one.
func (n NoteInfluence) Merge(other NoteInfluence) NoteInfluence {
	switch {
	case n == InfluenceNone || n == "":
		return other
	case other == InfluenceNone || other == "":
		return n
	case n == other:
		return n
	default:
		return InfluenceBoth
	}
}

// AnalysisStatus is the state machine for one analysis:
// received → normalizing → inferring → mapping → portion_resolving →
// scoring_confidence → conflict_check → {awaiting_user_resolution |
// ready_to_save} → saved, with failed reachable from inferring.
type AnalysisStatus string

const (
	StatusReceived          AnalysisStatus = "received"
	StatusNormalizing       AnalysisStatus = "normalizing"
	StatusInferring         AnalysisStatus = "inferring"
	StatusMapping           AnalysisStatus = "mapping"
	StatusPortionResolving  AnalysisStatus = "portion_resolving"
	StatusScoringConfidence AnalysisStatus = "scoring_confidence"
	StatusConflictCheck     AnalysisStatus = "conflict_check"
	StatusAwaitingUser      AnalysisStatus = "awaiting_user_resolution"
	StatusReadyToSave       AnalysisStatus = "ready_to_save"
	StatusSaved             AnalysisStatus = "saved"
	StatusFailed            AnalysisStatus = "failed"
)

// Macros are grams of protein, carbs and fat. On a CanonicalFoodRecord they
// are per 100g; everywhere else they are absolute for the portion.
type Macros struct {
	Protein float64 `json:"protein_g"`
	Carbs   float64 `json:"carbs_g"`
	Fat     float64 `json:"fat_g"`
}

func (m Macros) Add(other Macros) Macros {
	return Macros{
		Protein: m.Protein + other.Protein,
		Carbs:   m.Carbs + other.Carbs,
		Fat:     m.Fat + other.Fat,
	}
}

func (m Macros) Scale(ratio float64) Macros {
	return Macros{Protein: m.Protein * ratio, Carbs: m.Carbs * ratio, Fat: m.Fat * ratio}
}

type Alternative struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// DetectedItem is one item as returned by the inference adapter. Immutable
// once parsed; reconciliation happens on copies.
type DetectedItem struct {
	Name         string        `json:"name"`
	PortionGrams float64       `json:"portion_grams"`
	Unit         string        `json:"unit,omitempty"`
	Calories     float64       `json:"calories"`
	Macros       Macros        `json:"macros"`
	Confidence   float64       `json:"confidence"` // 0..1
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// InferenceResult is the schema-validated output of one model call.
type InferenceResult struct {
	Items         []DetectedItem `json:"items"`
	TotalCalories float64        `json:"total_calories"`
	Explanation   string         `json:"explanation,omitempty"`
	ModelVersion  string         `json:"model_version,omitempty"`
	Fallback      bool           `json:"fallback,omitempty"`
}

// InferenceRequest carries one photo or text description to the model.
type InferenceRequest struct {
	UserID       string
	Text         string
	ImageData    []byte
	ImageFormat  string // "jpeg", "png"; defaults to jpeg when image data is set
	MealType     MealType
	Region       string
	DietaryPrefs []string
	AuxNote      string // sanitized user note, forwarded as extra context
}

func (r InferenceRequest) QuotaType() QuotaType {
	if len(r.ImageData) > 0 {
		return QuotaVision
	}
	return QuotaText
}

// CanonicalFoodRecord is a catalog entry with authoritative per-100g
// nutrition. Read-only to the pipeline.
type CanonicalFoodRecord struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	CaloriesPer100g  float64  `json:"calories_per_100g"`
	MacrosPer100g    Macros   `json:"macros_per_100g"`
	RegionTags       []string `json:"region_tags,omitempty"`
	DietaryTags      []string `json:"dietary_tags,omitempty"`
	TypicalPortionG  float64  `json:"typical_portion_g,omitempty"`
	AlternativeNames []string `json:"alternative_names,omitempty"`
}

// ReconciledItem is a DetectedItem mapped onto at most one catalog record,
// with resolved grams, scaled macros and a 0–100 confidence.
type ReconciledItem struct {
	Name            string        `json:"name"`
	CatalogID       string        `json:"catalog_id,omitempty"`
	Mapped          bool          `json:"mapped"`
	PortionGrams    float64       `json:"portion_grams"`
	Calories        float64       `json:"calories"`
	Macros          Macros        `json:"macros"`
	Confidence      int           `json:"confidence"` // 0..100
	NoteInfluence   NoteInfluence `json:"note_influence"`
	ConfidenceTrace []string      `json:"confidence_trace,omitempty"`
}

// RescaleTo changes the portion and rescales calories and macros by the
// new-to-old ratio, preserving per-gram density.
func (it *ReconciledItem) RescaleTo(grams float64) {
	if it.PortionGrams <= 0 || grams <= 0 || grams == it.PortionGrams {
		it.PortionGrams = grams
		return
	}
	ratio := grams / it.PortionGrams
	it.PortionGrams = grams
	it.Calories *= ratio
	it.Macros = it.Macros.Scale(ratio)
}

// NoteQuantity is a structured "<n> <unit> <food>" extraction from the note.
// Count is a float so "half"/"aadha" survives as 0.5.
type NoteQuantity struct {
	Count float64 `json:"count"`
	Unit  string  `json:"unit,omitempty"`
	Food  string  `json:"food"`
}

// UserNote lives for the duration of one analysis.
type UserNote struct {
	Raw        string         `json:"raw"`
	Sanitized  string         `json:"sanitized"`
	Language   string         `json:"language"`
	Truncated  bool           `json:"truncated,omitempty"`
	Quantities []NoteQuantity `json:"quantities,omitempty"`
}

type ConflictType string

const (
	ConflictQuantity ConflictType = "quantity"
	ConflictPortion  ConflictType = "portion"
	ConflictName     ConflictType = "name"
)

type ConflictResolution string

const (
	ResolutionUnresolved ConflictResolution = "unresolved"
	ResolutionModel      ConflictResolution = "model"
	ResolutionNote       ConflictResolution = "note"
)

// ConflictRecord is one detected disagreement between the model output and
// the user note. Resolved at most once; unresolved conflicts default to the
// model value at save time.
type ConflictRecord struct {
	ItemName   string             `json:"item_name"`
	Type       ConflictType       `json:"conflict_type"`
	ModelValue float64            `json:"model_value"`
	NoteValue  float64            `json:"note_value"`
	NoteTerm   string             `json:"note_term,omitempty"`
	NoteGrams  float64            `json:"note_grams,omitempty"`
	Resolution ConflictResolution `json:"resolution"`
}

// ConfidenceFactors are the ephemeral 0–100 inputs to the weighted score.
type ConfidenceFactors struct {
	Model   float64 `json:"model_confidence"`
	Mapping float64 `json:"mapping_confidence"`
	Portion float64 `json:"portion_heuristic"`
	Context float64 `json:"context_score"`
}

// PortionPrior is a user's accumulated average portion for one food.
type PortionPrior struct {
	UserID          string  `json:"user_id"`
	FoodName        string  `json:"food_name"`
	AvgPortionGrams float64 `json:"avg_portion_grams"`
	SampleCount     int     `json:"sample_count"`
}

// QuotaState holds one user's counters for one day.
type QuotaState struct {
	UserID      string `json:"user_id"`
	Day         string `json:"day"` // YYYY-MM-DD
	VisionCount int    `json:"vision_count"`
	TextCount   int    `json:"text_count"`
}

func (q QuotaState) Count(t QuotaType) int {
	if t == QuotaVision {
		return q.VisionCount
	}
	return q.TextCount
}

// UnlimitedQuota marks a tier with no numeric limit.
const UnlimitedQuota = -1

type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetsAt  time.Time `json:"resets_at"`
}

// AnalysisRecord is the persisted snapshot of one analysis. Write-once
// except for status and the item/conflict mutations driven by
// ResolveConflict.
type AnalysisRecord struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	MealType   MealType         `json:"meal_type"`
	Region     string           `json:"region,omitempty"`
	PhotoRef   string           `json:"photo_ref,omitempty"`
	Status     AnalysisStatus   `json:"status"`
	FailReason string           `json:"fail_reason,omitempty"`
	Raw        InferenceResult  `json:"raw_inference"`
	Items      []ReconciledItem `json:"items"`
	Note       UserNote         `json:"note"`
	Conflicts  []ConflictRecord `json:"conflicts,omitempty"`
	Confidence int              `json:"overall_confidence"`
	Warnings   []string         `json:"warnings,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// TotalCalories sums the reconciled items.
func (a AnalysisRecord) TotalCalories() float64 {
	var total float64
	for _, it := range a.Items {
		total += it.Calories
	}
	return total
}

// MealLog is the final saved meal, unique per idempotency key.
type MealLog struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	MealType       MealType         `json:"meal_type"`
	IdempotencyKey string           `json:"idempotency_key"`
	PhotoRef       string           `json:"photo_ref,omitempty"`
	LoggedAt       time.Time        `json:"logged_at"`
	TotalCalories  float64          `json:"total_calories"`
	Totals         Macros           `json:"totals"`
	Items          []ReconciledItem `json:"items"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ErrAnalysisNotFound is returned by AnalysisStore lookups for unknown ids.
var ErrAnalysisNotFound = errors.New("analysis not found")

// QuotaExceededError is terminal for the call and is surfaced to the UI as
// an upgrade prompt, carrying the decision that denied it.
type QuotaExceededError struct {
	Decision QuotaDecision
}

func (e *QuotaExceededError) Error() string {
	return "daily analysis limit reached"
}
