package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists the rule table in PostgreSQL. Each row holds one
// rule keyed by priority, with the full definition as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) List(ctx context.Context) ([]Rule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT priority, definition FROM policy_rules ORDER BY priority ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []Rule
	for rows.Next() {
		var priority int
		var definition []byte
		if err := rows.Scan(&priority, &definition); err != nil {
			return nil, err
		}
		var r Rule
		if err := json.Unmarshal(definition, &r); err != nil {
			return nil, fmt.Errorf("corrupt definition for policy %d: %w", priority, err)
		}
		r.Priority = Priority(priority)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Save(ctx context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	definition, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO policy_rules (priority, name, definition, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (priority) DO UPDATE
		SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		int(r.Priority), r.Name, definition, time.Now(),
	)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, pr Priority) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM policy_rules WHERE priority = $1`, int(pr))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (p *PostgresStore) Seeded(ctx context.Context) (bool, error) {
	var seeded bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM policy_rules_state WHERE id = 1)`).Scan(&seeded)
	return seeded, err
}

func (p *PostgresStore) MarkSeeded(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policy_rules_state (id, seeded_at) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`, time.Now())
	return err
}

// Migrate creates the policy tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS policy_rules (
			priority   INTEGER PRIMARY KEY CHECK (priority BETWEEN 1 AND 5),
			name       TEXT NOT NULL,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS policy_rules_state (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			seeded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
