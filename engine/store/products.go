package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rserravi/fullfoodapp/engine/catalog"
)

// ProductStore persists the product catalog.
type ProductStore struct {
	db *DB
}

// Products returns the catalog accessor.
func (d *DB) Products() *ProductStore {
	return &ProductStore{db: d}
}

// ListProducts returns the catalog visible to userID: their own entries
// plus global ones.
func (p *ProductStore) ListProducts(ctx context.Context, userID string) ([]catalog.Product, error) {
	rows, err := p.db.sqlDB.QueryContext(ctx,
		"SELECT id, user_id, name, category, synonyms, is_global FROM products WHERE user_id = ? OR is_global = 1 ORDER BY name",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var pr catalog.Product
		var synonyms string
		var global int
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.Name, &pr.Category, &synonyms, &global); err != nil {
			return nil, fmt.Errorf("store: scan product: %w", err)
		}
		if err := json.Unmarshal([]byte(synonyms), &pr.Synonyms); err != nil {
			pr.Synonyms = nil
		}
		pr.IsGlobal = global != 0
		products = append(products, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	return products, nil
}

// UpsertProduct inserts or updates a catalog entry, assigning an id when
// absent. The stored id is returned.
func (p *ProductStore) UpsertProduct(ctx context.Context, pr catalog.Product) (string, error) {
	if pr.ID == "" {
		pr.ID = uuid.NewString()
	}
	synonyms, err := json.Marshal(pr.Synonyms)
	if err != nil {
		return "", fmt.Errorf("store: marshal synonyms: %w", err)
	}
	global := 0
	if pr.IsGlobal {
		global = 1
	}
	_, err = p.db.sqlDB.ExecContext(ctx, `
		INSERT INTO products (id, user_id, name, category, synonyms, is_global)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			synonyms = excluded.synonyms,
			is_global = excluded.is_global`,
		pr.ID, pr.UserID, pr.Name, pr.Category, string(synonyms), global,
	)
	if err != nil {
		return "", fmt.Errorf("store: upsert product: %w", err)
	}
	return pr.ID, nil
}

// DeleteProduct removes one of the user's own catalog entries.
func (p *ProductStore) DeleteProduct(ctx context.Context, userID, id string) error {
	if _, err := p.db.sqlDB.ExecContext(ctx,
		"DELETE FROM products WHERE id = ? AND user_id = ?", id, userID,
	); err != nil {
		return fmt.Errorf("store: delete product: %w", err)
	}
	return nil
}
