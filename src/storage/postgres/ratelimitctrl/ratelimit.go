package ratelimitctrl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitEntry is one fixed-window counter row. The key encodes route,
// identity and window start, so concurrent requests in the same window
// race on a single row and the upsert increment stays atomic.
type RateLimitEntry struct {
	Key           string    `gorm:"primaryKey" json:"key"`
	Route         string    `gorm:"not null" json:"route"`
	UserID        string    `json:"user_id,omitempty"`
	WindowStart   time.Time `gorm:"not null" json:"window_start"`
	WindowSeconds int       `gorm:"not null" json:"window_seconds"`
	Count         int       `gorm:"not null" json:"count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Options struct {
	Route         string
	UserID        string
	Limit         int
	WindowSeconds int
}

type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type RateLimitService struct {
	db *gorm.DB
}

func NewRateLimitService(db *gorm.DB) (*RateLimitService, error) {
	return &RateLimitService{db: db}, nil
}

// WindowStart truncates now to the start of the current fixed window.
func WindowStart(now time.Time, windowSeconds int) time.Time {
	window := time.Duration(windowSeconds) * time.Second
	return now.Truncate(window)
}

// BuildKey produces the counter row key for one route, identity and window.
func BuildKey(route, identity string, windowStart time.Time, windowSeconds int) string {
	return fmt.Sprintf("%s:%s:%s:%d", route, identity, windowStart.UTC().Format(time.RFC3339), windowSeconds)
}

// Check counts this request against the window and reports whether it is
// within the limit.
func (s *RateLimitService) Check(ctx context.Context, opts Options) (*Result, error) {
	now := time.Now()
	windowStart := WindowStart(now, opts.WindowSeconds)
	identity := opts.UserID
	if identity == "" {
		identity = "anonymous"
	}
	key := BuildKey(opts.Route, identity, windowStart, opts.WindowSeconds)

	entry := &RateLimitEntry{
		Key:           key,
		Route:         opts.Route,
		UserID:        opts.UserID,
		WindowStart:   windowStart,
		WindowSeconds: opts.WindowSeconds,
		Count:         1,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count": gorm.Expr("rate_limit_entries.count + 1"),
		}),
	}).Create(entry)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to upsert rate limit entry: %v", result.Error)
	}

	// Re-read for the authoritative count after the increment.
	var current RateLimitEntry
	if result := s.db.WithContext(ctx).First(&current, "key = ?", key); result.Error != nil {
		return nil, fmt.Errorf("failed to read rate limit entry: %v", result.Error)
	}

	remaining := opts.Limit - current.Count
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   current.Count <= opts.Limit,
		Limit:     opts.Limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(time.Duration(opts.WindowSeconds) * time.Second),
	}, nil
}
