package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists audit entries in the judgment_audit table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	SELECT id, transaction_id, decision, policy_applied, confidence, source,
	       consistent, investigation, judgment, discrepancies, created_at
	FROM judgment_audit`

func (s *PostgresStore) Record(ctx context.Context, entry *Entry) error {
	invJSON, err := json.Marshal(entry.Investigation)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation: %w", err)
	}
	judgmentJSON, err := json.Marshal(entry.Judgment)
	if err != nil {
		return fmt.Errorf("failed to marshal judgment: %w", err)
	}
	discJSON, err := json.Marshal(entry.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to marshal discrepancies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO judgment_audit (id, transaction_id, decision, policy_applied, confidence, source,
		                            consistent, investigation, judgment, discrepancies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID,
		entry.TransactionID,
		string(entry.Decision),
		entry.PolicyApplied,
		entry.Confidence,
		string(entry.Source),
		entry.Consistent,
		invJSON,
		judgmentJSON,
		discJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record judgment audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ListByTransaction(ctx context.Context, transactionID string, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE transaction_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, transactionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list judgment audit: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]*Entry, error) {
	query := selectColumns + ` WHERE ($1 = '' OR source = $1)`
	args := []any{string(q.Source)}
	if q.After != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, q.After.CreatedAt, q.After.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list judgment audit: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                               Entry
		invJSON, judgmentJSON, discJSON []byte
	)
	if err := row.Scan(&e.ID, &e.TransactionID, &e.Decision, &e.PolicyApplied, &e.Confidence, &e.Source,
		&e.Consistent, &invJSON, &judgmentJSON, &discJSON, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(invJSON, &e.Investigation); err != nil {
		return nil, fmt.Errorf("corrupt investigation for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(judgmentJSON, &e.Judgment); err != nil {
		return nil, fmt.Errorf("corrupt judgment for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(discJSON, &e.Discrepancies); err != nil {
		return nil, fmt.Errorf("corrupt discrepancies for %s: %w", e.ID, err)
	}
	return &e, nil
}

func collect(rows *sql.Rows) ([]*Entry, error) {
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
