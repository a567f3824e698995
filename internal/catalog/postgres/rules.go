package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
)

const ruleColumns = `id, name, description, scope, prompt, active, created_at, updated_at`

func (r *Repository) CreateRule(ctx context.Context, in catalog.CreateRuleInput) (catalog.Rule, error) {
	rule := catalog.Rule{
		ID:          r.newID(),
		Name:        in.Name,
		Description: in.Description,
		Scope:       in.Scope,
		Prompt:      in.Prompt,
		Active:      true,
	}
	if in.Active != nil {
		rule.Active = *in.Active
	}
	query := `
INSERT INTO rules (id, name, description, scope, prompt, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Scope, rule.Prompt, rule.Active,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return catalog.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) ListRules(ctx context.Context) ([]catalog.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM rules
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rules := make([]catalog.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (r *Repository) GetRule(ctx context.Context, id string) (catalog.Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM rules
WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Rule{}, catalog.ErrNotFound
		}
		return catalog.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) UpdateRule(ctx context.Context, id string, in catalog.UpdateRuleInput) (catalog.Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `
UPDATE rules
SET name = COALESCE($2, name),
    description = COALESCE($3, description),
    scope = COALESCE($4, scope),
    prompt = COALESCE($5, prompt),
    active = COALESCE($6, active),
    updated_at = NOW()
WHERE id = $1
RETURNING `+ruleColumns,
		id, in.Name, in.Description, in.Scope, in.Prompt, in.Active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Rule{}, catalog.ErrNotFound
		}
		return catalog.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM rules WHERE id = $1`, id, "delete rule")
}

func scanRule(row rowScanner) (catalog.Rule, error) {
	var rule catalog.Rule
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Scope,
		&rule.Prompt,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return catalog.Rule{}, err
	}
	return rule, nil
}
