// Package store persists meal logs, portion priors, quota counters and
// analysis snapshots in sqlite. Every cross-request mutation is a single
// statement upsert so concurrent requests from one user stay correct.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mealsense"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ mealsense.MealStore = (*SQLiteStore)(nil)
var _ mealsense.PriorStore = (*SQLiteStore)(nil)
var _ mealsense.QuotaCounter = (*SQLiteStore)(nil)
var _ mealsense.AnalysisStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writes; a single connection avoids SQLITE_BUSY
	// between racing save calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS meal_logs (
        id TEXT PRIMARY KEY,
        idempotency_key TEXT NOT NULL UNIQUE,
        user_id TEXT NOT NULL,
        meal_type TEXT NOT NULL,
        photo_ref TEXT NOT NULL DEFAULT '',
        logged_at DATETIME NOT NULL,
        total_calories REAL NOT NULL,
        total_protein REAL NOT NULL,
        total_carbs REAL NOT NULL,
        total_fat REAL NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meal_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        meal_id TEXT NOT NULL,
        name TEXT NOT NULL,
        catalog_id TEXT NOT NULL DEFAULT '',
        mapped INTEGER NOT NULL DEFAULT 0,
        portion_grams REAL NOT NULL,
        calories REAL NOT NULL,
        protein REAL NOT NULL,
        carbs REAL NOT NULL,
        fat REAL NOT NULL,
        confidence INTEGER NOT NULL,
        note_influence TEXT NOT NULL DEFAULT 'none',
        FOREIGN KEY (meal_id) REFERENCES meal_logs(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS portion_priors (
        user_id TEXT NOT NULL,
        food_name TEXT NOT NULL,
        avg_portion_grams REAL NOT NULL,
        sample_count INTEGER NOT NULL,
        PRIMARY KEY (user_id, food_name)
    );

    CREATE TABLE IF NOT EXISTS quota_counters (
        user_id TEXT NOT NULL,
        day TEXT NOT NULL,
        quota_type TEXT NOT NULL,
        count INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (user_id, day, quota_type)
    );

    CREATE TABLE IF NOT EXISTS analyses (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        status TEXT NOT NULL,
        fail_reason TEXT NOT NULL DEFAULT '',
        payload TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_meal_logs_user_time ON meal_logs(user_id, logged_at);
    CREATE INDEX IF NOT EXISTS idx_meal_items_meal_id ON meal_items(meal_id);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveIfAbsent inserts the meal under its idempotency key, or returns the
// row that already owns the key. The insert relies on the UNIQUE constraint
// so two racing calls can never both insert.
func (s *SQLiteStore) SaveIfAbsent(ctx context.Context, key string, meal mealsense.MealLog) (mealsense.MealLog, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mealsense.MealLog{}, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO meal_logs (id, idempotency_key, user_id, meal_type, photo_ref, logged_at, total_calories, total_protein, total_carbs, total_fat, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(idempotency_key) DO NOTHING`,
		meal.ID, key, meal.UserID, string(meal.MealType), meal.PhotoRef,
		meal.LoggedAt.UTC().Format(time.RFC3339), meal.TotalCalories,
		meal.Totals.Protein, meal.Totals.Carbs, meal.Totals.Fat,
		meal.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return mealsense.MealLog{}, false, fmt.Errorf("failed to insert meal log: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return mealsense.MealLog{}, false, err
	}
	if affected == 0 {
		// Key already taken: hand back the surviving row untouched. The
		// read goes through the open tx; with one pooled connection a
		// query on s.db here would wait on the tx forever.
		existing, err := s.mealByKey(ctx, tx, key)
		if err != nil {
			return mealsense.MealLog{}, false, err
		}
		return existing, true, nil
	}

	for _, it := range meal.Items {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO meal_items (meal_id, name, catalog_id, mapped, portion_grams, calories, protein, carbs, fat, confidence, note_influence)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meal.ID, it.Name, it.CatalogID, boolToInt(it.Mapped), it.PortionGrams,
			it.Calories, it.Macros.Protein, it.Macros.Carbs, it.Macros.Fat,
			it.Confidence, string(it.NoteInfluence))
		if err != nil {
			return mealsense.MealLog{}, false, fmt.Errorf("failed to insert meal item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mealsense.MealLog{}, false, err
	}
	meal.IdempotencyKey = key
	return meal, false, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside
// or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) mealByKey(ctx context.Context, q querier, key string) (mealsense.MealLog, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, idempotency_key, user_id, meal_type, photo_ref, logged_at, total_calories, total_protein, total_carbs, total_fat, created_at
        FROM meal_logs WHERE idempotency_key = ?`, key)

	meal, err := s.scanMealRowOnly(row)
	if err != nil {
		return mealsense.MealLog{}, err
	}
	if err := s.loadItemsForMeal(ctx, q, &meal); err != nil {
		return mealsense.MealLog{}, err
	}
	return meal, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) loadItemsForMeal(ctx context.Context, q querier, meal *mealsense.MealLog) error {
	rows, err := q.QueryContext(ctx, `
        SELECT name, catalog_id, mapped, portion_grams, calories, protein, carbs, fat, confidence, note_influence
        FROM meal_items WHERE meal_id = ? ORDER BY id`, meal.ID)
	if err != nil {
		return fmt.Errorf("failed to query meal items: %w", err)
	}
	defer rows.Close()

	var items []mealsense.ReconciledItem
	for rows.Next() {
		var it mealsense.ReconciledItem
		var mapped int
		var influence string
		err := rows.Scan(&it.Name, &it.CatalogID, &mapped, &it.PortionGrams,
			&it.Calories, &it.Macros.Protein, &it.Macros.Carbs, &it.Macros.Fat,
			&it.Confidence, &influence)
		if err != nil {
			return fmt.Errorf("failed to scan meal item: %w", err)
		}
		it.Mapped = mapped != 0
		it.NoteInfluence = mealsense.NoteInfluence(influence)
		items = append(items, it)
	}
	meal.Items = items
	return rows.Err()
}

// RecentMeals returns a user's meals between from and to, newest first.
func (s *SQLiteStore) RecentMeals(ctx context.Context, userID string, from, to time.Time, limit int) ([]mealsense.MealLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, idempotency_key, user_id, meal_type, photo_ref, logged_at, total_calories, total_protein, total_carbs, total_fat, created_at
        FROM meal_logs
        WHERE user_id = ? AND logged_at >= ? AND logged_at <= ?
        ORDER BY logged_at DESC LIMIT ?`,
		userID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal logs: %w", err)
	}
	defer rows.Close()

	var ids []string
	var meals []mealsense.MealLog
	for rows.Next() {
		meal, err := s.scanMealRowOnly(rows)
		if err != nil {
			return nil, err
		}
		meals = append(meals, meal)
		ids = append(ids, meal.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range meals {
		if err := s.loadItemsForMeal(ctx, s.db, &meals[i]); err != nil {
			return nil, fmt.Errorf("failed to load items for meal %s: %w", ids[i], err)
		}
	}
	return meals, nil
}

func (s *SQLiteStore) scanMealRowOnly(row rowScanner) (mealsense.MealLog, error) {
	var meal mealsense.MealLog
	var mealType, loggedAtStr, createdAtStr string

	err := row.Scan(&meal.ID, &meal.IdempotencyKey, &meal.UserID, &mealType, &meal.PhotoRef,
		&loggedAtStr, &meal.TotalCalories, &meal.Totals.Protein, &meal.Totals.Carbs, &meal.Totals.Fat, &createdAtStr)
	if err != nil {
		return mealsense.MealLog{}, fmt.Errorf("failed to scan meal log: %w", err)
	}
	meal.MealType = mealsense.MealType(mealType)
	if meal.LoggedAt, err = time.Parse(time.RFC3339, loggedAtStr); err != nil {
		return mealsense.MealLog{}, err
	}
	if meal.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return mealsense.MealLog{}, err
	}
	return meal, nil
}

// Get returns a user's portion prior for one food.
func (s *SQLiteStore) Get(ctx context.Context, userID, foodName string) (mealsense.PortionPrior, bool, error) {
	var p mealsense.PortionPrior
	err := s.db.QueryRowContext(ctx, `
        SELECT user_id, food_name, avg_portion_grams, sample_count
        FROM portion_priors WHERE user_id = ? AND food_name = ?`,
		userID, foodName).Scan(&p.UserID, &p.FoodName, &p.AvgPortionGrams, &p.SampleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return mealsense.PortionPrior{}, false, nil
	}
	if err != nil {
		return mealsense.PortionPrior{}, false, fmt.Errorf("failed to query portion prior: %w", err)
	}
	return p, true, nil
}

// Record folds one observed portion into the accumulating mean, atomically.
func (s *SQLiteStore) Record(ctx context.Context, userID, foodName string, portionGrams float64) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO portion_priors (user_id, food_name, avg_portion_grams, sample_count)
        VALUES (?, ?, ?, 1)
        ON CONFLICT(user_id, food_name) DO UPDATE SET
            avg_portion_grams = (avg_portion_grams * sample_count + excluded.avg_portion_grams) / (sample_count + 1),
            sample_count = sample_count + 1`,
		userID, foodName, portionGrams)
	if err != nil {
		return fmt.Errorf("failed to record portion prior: %w", err)
	}
	return nil
}

// Counts returns the day's usage counters for a user.
func (s *SQLiteStore) Counts(ctx context.Context, userID, day string) (mealsense.QuotaState, error) {
	state := mealsense.QuotaState{UserID: userID, Day: day}

	rows, err := s.db.QueryContext(ctx, `
        SELECT quota_type, count FROM quota_counters WHERE user_id = ? AND day = ?`,
		userID, day)
	if err != nil {
		return state, fmt.Errorf("failed to query quota counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var quotaType string
		var count int
		if err := rows.Scan(&quotaType, &count); err != nil {
			return state, fmt.Errorf("failed to scan quota counter: %w", err)
		}
		switch mealsense.QuotaType(quotaType) {
		case mealsense.QuotaVision:
			state.VisionCount = count
		case mealsense.QuotaText:
			state.TextCount = count
		}
	}
	return state, rows.Err()
}

// Increment adds one call to the day's counter, atomically.
func (s *SQLiteStore) Increment(ctx context.Context, userID string, quotaType mealsense.QuotaType, day string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO quota_counters (user_id, day, quota_type, count)
        VALUES (?, ?, ?, 1)
        ON CONFLICT(user_id, day, quota_type) DO UPDATE SET count = count + 1`,
		userID, day, string(quotaType))
	if err != nil {
		return fmt.Errorf("failed to increment quota counter: %w", err)
	}
	return nil
}

// Put upserts the full analysis snapshot.
func (s *SQLiteStore) Put(ctx context.Context, rec mealsense.AnalysisRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO analyses (id, user_id, status, fail_reason, payload, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            fail_reason = excluded.fail_reason,
            payload = excluded.payload,
            updated_at = excluded.updated_at`,
		rec.ID, rec.UserID, string(rec.Status), rec.FailReason, string(payload),
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}
	return nil
}

// Get loads one analysis snapshot. The status column wins over the payload
// so SetStatus transitions are visible without a full Put.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (mealsense.AnalysisRecord, error) {
	var payload, status, failReason string
	err := s.db.QueryRowContext(ctx, `
        SELECT payload, status, fail_reason FROM analyses WHERE id = ?`, id).
		Scan(&payload, &status, &failReason)
	if errors.Is(err, sql.ErrNoRows) {
		return mealsense.AnalysisRecord{}, mealsense.ErrAnalysisNotFound
	}
	if err != nil {
		return mealsense.AnalysisRecord{}, fmt.Errorf("failed to query analysis: %w", err)
	}

	var rec mealsense.AnalysisRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return mealsense.AnalysisRecord{}, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	rec.Status = mealsense.AnalysisStatus(status)
	rec.FailReason = failReason
	return rec, nil
}

// SetStatus records a state machine transition without rewriting the
// payload.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status mealsense.AnalysisStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE analyses SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update analysis status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mealsense.ErrAnalysisNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
