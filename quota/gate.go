// Package quota implements admission control on daily model-call volume
// per user and tier.
package quota

import (
	"context"
	"log/slog"
	"time"

	"mealsense"
)

// Limits are the free-tier daily call budgets. Premium (and trialing)
// users bypass numeric limits entirely.
type Limits struct {
	FreeVision int
	FreeText   int
}

type Gate struct {
	counter mealsense.QuotaCounter
	limits  Limits
	now     func() time.Time
}

func NewGate(counter mealsense.QuotaCounter, limits Limits) *Gate {
	return &Gate{counter: counter, limits: limits, now: time.Now}
}

// WithClock overrides the gate's clock; tests use this to cross the daily
// reset boundary.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check decides whether one more call of the given type is admitted today.
// It never increments. On a counter read error the gate fails open: the
// call is allowed and the error is logged — blocking paying users on a
// store outage is judged worse than leaking free-tier calls.
func (g *Gate) Check(ctx context.Context, userID string, quotaType mealsense.QuotaType, premium bool) mealsense.QuotaDecision {
	now := g.now()
	reset := nextMidnight(now)

	if premium {
		return mealsense.QuotaDecision{
			Allowed:   true,
			Remaining: mealsense.UnlimitedQuota,
			Limit:     mealsense.UnlimitedQuota,
			ResetsAt:  reset,
		}
	}

	limit := g.limits.FreeText
	if quotaType == mealsense.QuotaVision {
		limit = g.limits.FreeVision
	}

	state, err := g.counter.Counts(ctx, userID, Day(now))
	if err != nil {
		slog.Warn("QUOTA: counter read failed, failing open", "user_id", userID, "error", err)
		return mealsense.QuotaDecision{Allowed: true, Remaining: limit, Limit: limit, ResetsAt: reset}
	}

	used := state.Count(quotaType)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return mealsense.QuotaDecision{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     limit,
		ResetsAt:  reset,
	}
}

// Increment counts one successful model call. Separate from Check so a
// denied or abandoned check never double-counts.
func (g *Gate) Increment(ctx context.Context, userID string, quotaType mealsense.QuotaType) error {
	return g.counter.Increment(ctx, userID, quotaType, Day(g.now()))
}

// Day renders the counter bucket for a point in time, in that time's
// location.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
