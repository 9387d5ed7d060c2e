package disbursement

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists disbursement requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed disbursement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, dispute_id, recipient_id, amount, currency, status, attempt,
	external_ref, last_error, created_at, updated_at, dispatched_at, settled_at`

func (p *PostgresStore) Create(ctx context.Context, req *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disbursements (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, req.ID, req.DisputeID, req.RecipientID, req.Amount, req.Currency, req.Status, req.Attempt,
		nullStr(req.ExternalRef), nullStr(req.LastError), req.CreatedAt, req.UpdatedAt, req.DispatchedAt, req.SettledAt)
	if err != nil {
		return fmt.Errorf("insert disbursement: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM disbursements WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (p *PostgresStore) GetByDispute(ctx context.Context, disputeID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM disbursements WHERE dispute_id = $1
	`, disputeID)
	return scanRequest(row)
}

func (p *PostgresStore) Update(ctx context.Context, req *Request) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disbursements SET
			status = $2, attempt = $3, external_ref = $4, last_error = $5,
			updated_at = $6, dispatched_at = $7, settled_at = $8
		WHERE id = $1
	`, req.ID, req.Status, req.Attempt, nullStr(req.ExternalRef), nullStr(req.LastError),
		req.UpdatedAt, req.DispatchedAt, req.SettledAt)
	if err != nil {
		return fmt.Errorf("update disbursement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM disbursements
		WHERE status = 'pending' AND dispatched_at IS NULL
		ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending disbursements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	req := &Request{}
	var externalRef, lastError sql.NullString
	var dispatchedAt, settledAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.DisputeID, &req.RecipientID, &req.Amount, &req.Currency, &req.Status, &req.Attempt,
		&externalRef, &lastError, &req.CreatedAt, &req.UpdatedAt, &dispatchedAt, &settledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan disbursement: %w", err)
	}

	req.ExternalRef = externalRef.String
	req.LastError = lastError.String
	req.DispatchedAt = nullTimePtr(dispatchedAt)
	req.SettledAt = nullTimePtr(settledAt)
	return req, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
