package reputation

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists reputation records and deltas in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed reputation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetRecord(ctx context.Context, sellerID string) (*Record, error) {
	rec := &Record{}
	err := p.db.QueryRowContext(ctx, `
		SELECT seller_id, score, created_at, updated_at
		FROM reputation_records WHERE seller_id = $1
	`, sellerID).Scan(&rec.SellerID, &rec.Score, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation record: %w", err)
	}
	return rec, nil
}

// Save upserts the record and appends the delta in one transaction.
func (p *PostgresStore) Save(ctx context.Context, rec *Record, delta *Delta) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reputation_records (seller_id, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (seller_id) DO UPDATE SET score = $2, updated_at = $4
	`, rec.SellerID, rec.Score, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert reputation record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reputation_deltas (id, seller_id, amount, reason, dispute_id, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, delta.ID, delta.SellerID, delta.Amount, delta.Reason, delta.DisputeID, delta.Score, delta.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reputation delta: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) ListDeltas(ctx context.Context, sellerID string, limit int) ([]*Delta, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seller_id, amount, reason, dispute_id, score, created_at
		FROM reputation_deltas WHERE seller_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reputation deltas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deltas []*Delta
	for rows.Next() {
		d := &Delta{}
		var disputeID sql.NullString
		if err := rows.Scan(&d.ID, &d.SellerID, &d.Amount, &d.Reason, &disputeID, &d.Score, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reputation delta: %w", err)
		}
		d.DisputeID = disputeID.String
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}
