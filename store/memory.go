package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"mealsense"
)

// MemoryStore is an in-memory implementation of the persistence interfaces
// for tests and local experiments. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	meals    map[string]mealsense.MealLog // keyed by idempotency key
	priors   map[string]mealsense.PortionPrior
	quotas   map[string]int
	analyses map[string]mealsense.AnalysisRecord

	SaveErr    error
	CountsErr  error
	GetErr     error
	NumSaves   int
	Increments []string
}

var _ mealsense.MealStore = (*MemoryStore)(nil)
var _ mealsense.PriorStore = (*MemoryStore)(nil)
var _ mealsense.QuotaCounter = (*MemoryStore)(nil)
var _ mealsense.AnalysisStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meals:    make(map[string]mealsense.MealLog),
		priors:   make(map[string]mealsense.PortionPrior),
		quotas:   make(map[string]int),
		analyses: make(map[string]mealsense.AnalysisRecord),
	}
}

func (m *MemoryStore) SaveIfAbsent(ctx context.Context, key string, meal mealsense.MealLog) (mealsense.MealLog, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return mealsense.MealLog{}, false, m.SaveErr
	}
	if existing, ok := m.meals[key]; ok {
		return existing, true, nil
	}
	meal.IdempotencyKey = key
	m.meals[key] = meal
	m.NumSaves++
	return meal, false, nil
}

func (m *MemoryStore) RecentMeals(ctx context.Context, userID string, from, to time.Time, limit int) ([]mealsense.MealLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mealsense.MealLog
	for _, meal := range m.meals {
		if meal.UserID != userID || meal.LoggedAt.Before(from) || meal.LoggedAt.After(to) {
			continue
		}
		out = append(out, meal)
	}
	// Newest first, matching the sqlite query's ORDER BY.
	sort.Slice(out, func(i, j int) bool { return out[i].LoggedAt.After(out[j].LoggedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, userID, foodName string) (mealsense.PortionPrior, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.priors[userID+"|"+foodName]
	return p, ok, nil
}

func (m *MemoryStore) Record(ctx context.Context, userID, foodName string, portionGrams float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + "|" + foodName
	p, ok := m.priors[k]
	if !ok {
		m.priors[k] = mealsense.PortionPrior{UserID: userID, FoodName: foodName, AvgPortionGrams: portionGrams, SampleCount: 1}
		return nil
	}
	n := float64(p.SampleCount)
	p.AvgPortionGrams = (p.AvgPortionGrams*n + portionGrams) / (n + 1)
	p.SampleCount++
	m.priors[k] = p
	return nil
}

func (m *MemoryStore) Counts(ctx context.Context, userID, day string) (mealsense.QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountsErr != nil {
		return mealsense.QuotaState{}, m.CountsErr
	}
	return mealsense.QuotaState{
		UserID:      userID,
		Day:         day,
		VisionCount: m.quotas[userID+"|"+day+"|"+string(mealsense.QuotaVision)],
		TextCount:   m.quotas[userID+"|"+day+"|"+string(mealsense.QuotaText)],
	}, nil
}

func (m *MemoryStore) Increment(ctx context.Context, userID string, quotaType mealsense.QuotaType, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + "|" + day + "|" + string(quotaType)
	m.quotas[k]++
	m.Increments = append(m.Increments, k)
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, rec mealsense.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetAnalysis(ctx context.Context, id string) (mealsense.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return mealsense.AnalysisRecord{}, m.GetErr
	}
	rec, ok := m.analyses[id]
	if !ok {
		return mealsense.AnalysisRecord{}, mealsense.ErrAnalysisNotFound
	}
	return rec, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status mealsense.AnalysisStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.analyses[id]
	if !ok {
		return mealsense.ErrAnalysisNotFound
	}
	rec.Status = status
	rec.FailReason = reason
	rec.UpdatedAt = time.Now().UTC()
	m.analyses[id] = rec
	return nil
}
