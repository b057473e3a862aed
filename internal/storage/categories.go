package storage

import (
	"context"
	"fmt"
	"strings"

	"bollette/internal/core"
)

// ListCategories returns the vocabulary ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, COALESCE(user_id, '') FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", wrapErr(err))
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", wrapErr(err))
	}
	return out, nil
}

// AddCategory stores a new category owned by userID.
func (r *Repository) AddCategory(ctx context.Context, name, userID string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, &core.ValidationError{Field: "name", Err: core.ErrEmptyCategory}
	}

	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM categories WHERE lower(name) = lower("+r.dialect.placeholder(1)+")", name).Scan(&exists)
	if err != nil {
		return core.Category{}, fmt.Errorf("check category: %w", wrapErr(err))
	}
	if exists > 0 {
		return core.Category{}, &core.ValidationError{Field: "name", Err: fmt.Errorf("category %q already exists", name)}
	}

	c := core.Category{ID: r.newID(), Name: name, UserID: userID}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO categories (id, name, user_id) VALUES (%s, %s, %s)",
			r.dialect.placeholder(1), r.dialect.placeholder(2), r.dialect.placeholder(3)),
		c.ID, c.Name, nullString(userID))
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", wrapErr(err))
	}

	r.logger.InfoContext(ctx, "Category added", "id", c.ID, "name", c.Name)
	return c, nil
}

// DeleteCategory refuses to remove a category that bills still reference.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT name FROM categories WHERE id = "+r.dialect.placeholder(1), id).Scan(&name)
	if err != nil {
		return fmt.Errorf("get category %s: %w", id, wrapErr(err))
	}

	var used int
	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bills WHERE category = "+r.dialect.placeholder(1), name).Scan(&used)
	if err != nil {
		return fmt.Errorf("count category usage: %w", wrapErr(err))
	}
	if used > 0 {
		return core.CategoryInUseError(name, used)
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM categories WHERE id = "+r.dialect.placeholder(1), id); err != nil {
		return fmt.Errorf("delete category %s: %w", id, wrapErr(err))
	}
	r.logger.InfoContext(ctx, "Category deleted", "id", id, "name", name)
	return nil
}
