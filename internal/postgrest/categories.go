package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"bollette/internal/core"
	"bollette/internal/gateway"
)

const categoriesTable = "bill_categories"

type categoryRow struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	UserID *string `json:"user_id"`
}

func (r categoryRow) category() core.Category {
	c := core.Category{ID: r.ID, Name: r.Name}
	if r.UserID != nil {
		c.UserID = *r.UserID
	}
	return c
}

// ListCategories returns the shared and the user's categories ordered by name.
func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	params := url.Values{"select": {"id,name,user_id"}, "order": {"name.asc"}}
	resp, err := c.do(ctx, http.MethodGet, categoriesTable, params, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer resp.Body.Close()

	var rows []categoryRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	out := make([]core.Category, len(rows))
	for i, r := range rows {
		out[i] = r.category()
	}
	return out, nil
}

func (c *Client) AddCategory(ctx context.Context, name, userID string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, &core.ValidationError{Field: "name", Err: core.ErrEmptyCategory}
	}
	body := map[string]any{"name": name}
	if userID != "" {
		body["user_id"] = userID
	}
	header := http.Header{"Accept": {mediaObject}, "Prefer": {"return=representation"}}
	resp, err := c.do(ctx, http.MethodPost, categoriesTable, url.Values{"select": {"id,name,user_id"}}, header, body)
	if err != nil {
		return core.Category{}, fmt.Errorf("add category: %w", err)
	}
	defer resp.Body.Close()

	var row categoryRow
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return core.Category{}, fmt.Errorf("decode category: %w", err)
	}
	return row.category(), nil
}

// DeleteCategory refuses to remove a category that bills still reference.
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	params := url.Values{"select": {"id,name,user_id"}, "id": {"eq." + id}}
	resp, err := c.do(ctx, http.MethodGet, categoriesTable, params, http.Header{"Accept": {mediaObject}}, nil)
	if err != nil {
		return fmt.Errorf("get category %s: %w", id, err)
	}
	var row categoryRow
	err = json.NewDecoder(resp.Body).Decode(&row)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("decode category: %w", err)
	}

	res, err := c.Select(ctx, gateway.Query{Filter: core.FilterSpec{Category: row.Name}, CountOnly: true})
	if err != nil {
		return fmt.Errorf("count bills for category %s: %w", row.Name, err)
	}
	if res.Count != nil && *res.Count > 0 {
		return core.CategoryInUseError(row.Name, *res.Count)
	}

	resp, err = c.do(ctx, http.MethodDelete, categoriesTable, url.Values{"id": {"eq." + id}}, nil, nil)
	if err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	resp.Body.Close()
	return nil
}
