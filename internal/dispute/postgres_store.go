package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukasoko/resolution/internal/pagination"
)

// PostgresStore persists disputes and timelines in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `
	id, order_id, buyer_id, seller_id, category, title, description,
	amount, currency, status, resolution, resolution_amount, refund_status,
	evidence, proposal, created_at, updated_at,
	responded_at, escalated_at, resolved_at, closed_at`

func (p *PostgresStore) CreateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	evidence, proposal, err := marshalAggregates(d)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, d.ID, d.OrderID, d.BuyerID, d.SellerID, d.Category, d.Title, d.Description,
		d.Amount, d.Currency, d.Status, d.Resolution, d.ResolutionAmount, nullString(string(d.RefundStatus)),
		evidence, proposal, d.CreatedAt, d.UpdatedAt,
		d.RespondedAt, d.EscalatedAt, d.ResolvedAt, d.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}

	if err := insertTimeline(ctx, tx, entries); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE id = $1
	`, id)
	return scanDispute(row)
}

func (p *PostgresStore) UpdateWithTimeline(ctx context.Context, d *Dispute, entries ...*TimelineEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	evidence, proposal, err := marshalAggregates(d)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE disputes SET
			status = $2, resolution = $3, resolution_amount = $4, refund_status = $5,
			evidence = $6, proposal = $7, updated_at = $8,
			responded_at = $9, escalated_at = $10, resolved_at = $11, closed_at = $12
		WHERE id = $1
	`, d.ID, d.Status, d.Resolution, d.ResolutionAmount, nullString(string(d.RefundStatus)),
		evidence, proposal, d.UpdatedAt,
		d.RespondedAt, d.EscalatedAt, d.ResolvedAt, d.ClosedAt)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}

	if err := insertTimeline(ctx, tx, entries); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) AppendTimeline(ctx context.Context, entry *TimelineEntry) error {
	evidence, err := marshalEvidencePtr(entry.Evidence)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_timeline (id, dispute_id, sender_id, role, message, evidence, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM disputes WHERE id = $2)
	`, entry.ID, entry.DisputeID, nullString(entry.SenderID), entry.Role, entry.Message, evidence, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListTimeline(ctx context.Context, disputeID string) ([]*TimelineEntry, error) {
	if _, err := p.Get(ctx, disputeID); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, sender_id, role, message, evidence, created_at
		FROM dispute_timeline WHERE dispute_id = $1 ORDER BY created_at ASC, id ASC
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*TimelineEntry
	for rows.Next() {
		e := &TimelineEntry{}
		var senderID sql.NullString
		var evidence []byte
		if err := rows.Scan(&e.ID, &e.DisputeID, &senderID, &e.Role, &e.Message, &evidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		e.SenderID = senderID.String
		if len(evidence) > 0 {
			var ev EvidenceRef
			if err := json.Unmarshal(evidence, &ev); err != nil {
				return nil, fmt.Errorf("decode timeline evidence: %w", err)
			}
			e.Evidence = &ev
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	return p.listByParty(ctx, "buyer_id", buyerID, limit, cursor)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	return p.listByParty(ctx, "seller_id", sellerID, limit, cursor)
}

// listByParty pages matching disputes newest-first using a (created_at, id)
// keyset cursor. column is a trusted identifier, never user input.
func (p *PostgresStore) listByParty(ctx context.Context, column, userID string, limit int, cursor *pagination.Cursor) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE ` + column + ` = $1`
	args := []any{userID}

	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list disputes by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

func (p *PostgresStore) ListStale(ctx context.Context, status Status, cutoff time.Time) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = $1
		  AND CASE status
		        WHEN 'in_negotiation' THEN COALESCE(responded_at, created_at)
		        WHEN 'resolved'       THEN COALESCE(resolved_at, created_at)
		        ELSE created_at
		      END <= $2
		ORDER BY created_at ASC
	`, status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

func (p *PostgresStore) CountOpenBySeller(ctx context.Context, sellerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM disputes
		WHERE seller_id = $1
		  AND status IN ('awaiting_seller_response', 'in_negotiation', 'admin_review')
	`, sellerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open disputes: %w", err)
	}
	return n, nil
}

// Helpers

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanDispute(row scanner) (*Dispute, error) {
	d := &Dispute{}
	var refundStatus sql.NullString
	var evidence, proposal []byte
	var respondedAt, escalatedAt, resolvedAt, closedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.OrderID, &d.BuyerID, &d.SellerID, &d.Category, &d.Title, &d.Description,
		&d.Amount, &d.Currency, &d.Status, &d.Resolution, &d.ResolutionAmount, &refundStatus,
		&evidence, &proposal, &d.CreatedAt, &d.UpdatedAt,
		&respondedAt, &escalatedAt, &resolvedAt, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}

	d.RefundStatus = RefundStatus(refundStatus.String)
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if len(proposal) > 0 {
		var prop Proposal
		if err := json.Unmarshal(proposal, &prop); err != nil {
			return nil, fmt.Errorf("decode proposal: %w", err)
		}
		d.Proposal = &prop
	}
	d.RespondedAt = timePtr(respondedAt)
	d.EscalatedAt = timePtr(escalatedAt)
	d.ResolvedAt = timePtr(resolvedAt)
	d.ClosedAt = timePtr(closedAt)
	return d, nil
}

func scanDisputes(rows *sql.Rows) ([]*Dispute, error) {
	var disputes []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

func insertTimeline(ctx context.Context, tx *sql.Tx, entries []*TimelineEntry) error {
	for _, e := range entries {
		evidence, err := marshalEvidencePtr(e.Evidence)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dispute_timeline (id, dispute_id, sender_id, role, message, evidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.DisputeID, nullString(e.SenderID), e.Role, e.Message, evidence, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert timeline entry: %w", err)
		}
	}
	return nil
}

func marshalAggregates(d *Dispute) (evidence, proposal []byte, err error) {
	evidence, err = json.Marshal(d.Evidence)
	if err != nil {
		return nil, nil, fmt.Errorf("encode evidence: %w", err)
	}
	if d.Proposal != nil {
		proposal, err = json.Marshal(d.Proposal)
		if err != nil {
			return nil, nil, fmt.Errorf("encode proposal: %w", err)
		}
	}
	return evidence, proposal, nil
}

func marshalEvidencePtr(ev *EvidenceRef) ([]byte, error) {
	if ev == nil {
		return nil, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
