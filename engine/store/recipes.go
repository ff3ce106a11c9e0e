package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// UserRecipe is a saved recipe owned by one user.
type UserRecipe struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Title     string               `json:"title"`
	Recipe    domain.RecipeNeutral `json:"recipe"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// RecipeStore persists saved recipes.
type RecipeStore struct {
	db *DB
}

// Recipes returns the saved-recipes accessor.
func (d *DB) Recipes() *RecipeStore {
	return &RecipeStore{db: d}
}

// Save inserts or updates a recipe, assigning an id when absent.
func (r *RecipeStore) Save(ctx context.Context, rec UserRecipe) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	recipeJSON, err := json.Marshal(rec.Recipe)
	if err != nil {
		return "", fmt.Errorf("store: marshal recipe: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.sqlDB.ExecContext(ctx, `
		INSERT INTO user_recipes (id, user_id, title, recipe_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			recipe_json = excluded.recipe_json,
			updated_at = excluded.updated_at`,
		rec.ID, rec.UserID, rec.Recipe.Title, string(recipeJSON), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("store: save recipe: %w", err)
	}
	return rec.ID, nil
}

// Get returns one of the user's recipes.
func (r *RecipeStore) Get(ctx context.Context, userID, id string) (UserRecipe, error) {
	var rec UserRecipe
	var recipeJSON, createdAt, updatedAt string
	err := r.db.sqlDB.QueryRowContext(ctx, `
		SELECT id, user_id, title, recipe_json, created_at, updated_at
		FROM user_recipes WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&rec.ID, &rec.UserID, &rec.Title, &recipeJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return UserRecipe{}, ErrNotFound
	}
	if err != nil {
		return UserRecipe{}, fmt.Errorf("store: get recipe: %w", err)
	}
	if err := json.Unmarshal([]byte(recipeJSON), &rec.Recipe); err != nil {
		return UserRecipe{}, fmt.Errorf("store: decode recipe %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// List returns the user's recipes, newest first.
func (r *RecipeStore) List(ctx context.Context, userID string) ([]UserRecipe, error) {
	rows, err := r.db.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, title, recipe_json, created_at, updated_at
		FROM user_recipes WHERE user_id = ?
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []UserRecipe
	for rows.Next() {
		var rec UserRecipe
		var recipeJSON, createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &recipeJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan recipe: %w", err)
		}
		if err := json.Unmarshal([]byte(recipeJSON), &rec.Recipe); err != nil {
			return nil, fmt.Errorf("store: decode recipe %s: %w", rec.ID, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		recipes = append(recipes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list recipes: %w", err)
	}
	return recipes, nil
}

// Delete removes one of the user's recipes.
func (r *RecipeStore) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.sqlDB.ExecContext(ctx,
		"DELETE FROM user_recipes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("store: delete recipe: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
