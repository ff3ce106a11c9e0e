package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rserravi/fullfoodapp/engine/domain"
)

// ShoppingItem is one row of a user's shopping list.
type ShoppingItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Qty       *float64  `json:"qty"`
	Unit      *string   `json:"unit"`
	Category  *string   `json:"category"`
	Checked   bool      `json:"checked"`
	CreatedAt time.Time `json:"created_at"`
}

// ShoppingStore persists shopping lists.
type ShoppingStore struct {
	db *DB
}

// Shopping returns the shopping-list accessor.
func (d *DB) Shopping() *ShoppingStore {
	return &ShoppingStore{db: d}
}

// ReplaceList swaps the user's whole list for the given aggregated items.
// Used after building a weekly shopping list.
func (s *ShoppingStore) ReplaceList(ctx context.Context, userID string, items []domain.AggregatedItem) error {
	tx, err := s.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace list: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM shopping_items WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("store: clear list: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, it := range items {
		var category any
		if it.Category != "" {
			category = it.Category
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shopping_items (id, user_id, name, qty, unit, category, checked, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			uuid.NewString(), userID, it.Name, ptrAny(it.Qty), ptrAny(it.Unit), category, now,
		); err != nil {
			return fmt.Errorf("store: insert item %s: %w", it.Name, err)
		}
	}
	return tx.Commit()
}

// List returns the user's shopping list, unchecked items first.
func (s *ShoppingStore) List(ctx context.Context, userID string) ([]ShoppingItem, error) {
	rows, err := s.db.sqlDB.QueryContext(ctx, `
		SELECT id, user_id, name, qty, unit, category, checked, created_at
		FROM shopping_items WHERE user_id = ?
		ORDER BY checked, category, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list shopping: %w", err)
	}
	defer rows.Close()

	var items []ShoppingItem
	for rows.Next() {
		var it ShoppingItem
		var checked int
		var createdAt string
		if err := rows.Scan(&it.ID, &it.UserID, &it.Name, &it.Qty, &it.Unit, &it.Category, &checked, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan shopping item: %w", err)
		}
		it.Checked = checked != 0
		it.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list shopping: %w", err)
	}
	return items, nil
}

// SetChecked marks one item as bought or not.
func (s *ShoppingStore) SetChecked(ctx context.Context, userID, id string, checked bool) error {
	v := 0
	if checked {
		v = 1
	}
	if _, err := s.db.sqlDB.ExecContext(ctx,
		"UPDATE shopping_items SET checked = ? WHERE id = ? AND user_id = ?", v, id, userID,
	); err != nil {
		return fmt.Errorf("store: set checked: %w", err)
	}
	return nil
}

// ptrAny lowers a typed pointer into a driver-friendly value, mapping nil
// pointers to SQL NULL.
func ptrAny[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
