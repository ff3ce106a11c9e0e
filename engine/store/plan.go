package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

// PlanEntry schedules one recipe on one day and meal slot.
type PlanEntry struct {
	ID     string               `json:"id"`
	UserID string               `json:"user_id"`
	Day    string               `json:"day"` // YYYY-MM-DD
	Meal   string               `json:"meal"`
	Recipe domain.RecipeNeutral `json:"recipe"`
}

// PlanStore persists the weekly planner.
type PlanStore struct {
	db *DB
}

// Plan returns the planner accessor.
func (d *DB) Plan() *PlanStore {
	return &PlanStore{db: d}
}

// SaveEntry inserts or updates a plan entry, assigning an id when absent.
func (p *PlanStore) SaveEntry(ctx context.Context, e PlanEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	recipeJSON, err := json.Marshal(e.Recipe)
	if err != nil {
		return "", fmt.Errorf("store: marshal plan recipe: %w", err)
	}
	_, err = p.db.sqlDB.ExecContext(ctx, `
		INSERT INTO plan_entries (id, user_id, day, meal, recipe_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			meal = excluded.meal,
			recipe_json = excluded.recipe_json`,
		e.ID, e.UserID, e.Day, e.Meal, string(recipeJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("store: save plan entry: %w", err)
	}
	return e.ID, nil
}

// ListWeek returns the user's entries for the seven days starting at start.
func (p *PlanStore) ListWeek(ctx context.Context, userID string, start time.Time) ([]PlanEntry, error) {
	from := start.Format("2006-01-02")
	to := start.AddDate(0, 0, 7).Format("2006-01-02")
	rows, err := p.db.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, day, meal, recipe_json
		FROM plan_entries
		WHERE user_id = ? AND day >= ? AND day < ?
		ORDER BY day, meal`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: list week: %w", err)
	}
	defer rows.Close()

	var entries []PlanEntry
	for rows.Next() {
		var e PlanEntry
		var recipeJSON string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Day, &e.Meal, &recipeJSON); err != nil {
			return nil, fmt.Errorf("store: scan plan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(recipeJSON), &e.Recipe); err != nil {
			return nil, fmt.Errorf("store: decode plan recipe %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list week: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes one plan entry.
func (p *PlanStore) DeleteEntry(ctx context.Context, userID, id string) error {
	if _, err := p.db.sqlDB.ExecContext(ctx,
		"DELETE FROM plan_entries WHERE id = ? AND user_id = ?", id, userID,
	); err != nil {
		return fmt.Errorf("store: delete plan entry: %w", err)
	}
	return nil
}
