package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/dukasoko/resolution/internal/idgen"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/metrics"
	"github.com/dukasoko/resolution/internal/pagination"
	"github.com/dukasoko/resolution/internal/syncutil"
	"github.com/dukasoko/resolution/internal/traces"
	"github.com/dukasoko/resolution/internal/validation"
)

// Policy holds the tunable workflow constants. Values come from config, not
// from code, so product can adjust windows and deltas without a deploy.
type Policy struct {
	ResponseWindow    time.Duration
	NegotiationWindow time.Duration
	CloseGracePeriod  time.Duration
	MinDescriptionLen int
	MinResponseLen    int
	MinReasoningLen   int
	MaxEvidencePerMsg int
	MaxOpenPerSeller  int // 0 = unlimited

	OpenPenalty       int
	FaultPenalty      int
	VindicationReward int
}

// ReputationLedger applies signed score deltas to sellers. Implemented by
// the reputation package; declared here to keep the dependency one-way.
type ReputationLedger interface {
	ApplyDelta(ctx context.Context, sellerID string, delta int, reason, disputeID string) (int, error)
}

// Disburser creates durable refund requests. Implemented by the
// disbursement package.
type Disburser interface {
	CreateRequest(ctx context.Context, disputeID, recipientID string, amount int64, currency string) error
}

// EventEmitter publishes domain events for external notifiers.
// Implementations must not block; delivery is fire-and-forget.
type EventEmitter interface {
	DisputeOpened(d *Dispute)
	SellerResponded(d *Dispute)
	EscalatedToAdmin(d *Dispute, trigger string)
	DisputeResolved(d *Dispute)
	DisputeClosed(d *Dispute)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) DisputeOpened(*Dispute)            {}
func (NopEmitter) SellerResponded(*Dispute)          {}
func (NopEmitter) EscalatedToAdmin(*Dispute, string) {}
func (NopEmitter) DisputeResolved(*Dispute)          {}
func (NopEmitter) DisputeClosed(*Dispute)            {}

// Service owns all dispute transitions. Transitions on one dispute are
// serialized through a per-ID lock; disputes are independent of each other.
type Service struct {
	store      Store
	reputation ReputationLedger
	disburser  Disburser
	events     EventEmitter
	policy     Policy

	locks syncutil.ShardedMutex
	nowFn func() time.Time
}

// NewService creates the dispute service. disburser may be nil when no
// gateway is configured (refund-bearing resolutions then fail loudly).
func NewService(store Store, rep ReputationLedger, disburser Disburser, events EventEmitter, policy Policy) *Service {
	if events == nil {
		events = NopEmitter{}
	}
	return &Service{
		store:      store,
		reputation: rep,
		disburser:  disburser,
		events:     events,
		policy:     policy,
		nowFn:      time.Now,
	}
}

// EvidenceInput is an already-uploaded evidence reference as submitted by a caller.
type EvidenceInput struct {
	Locator   string `json:"locator"`
	MediaType string `json:"mediaType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// OpenParams carries everything needed to open a dispute.
type OpenParams struct {
	BuyerID     string
	SellerID    string
	OrderID     string
	Category    Category
	Title       string
	Description string
	Amount      int64
	Currency    string
	Evidence    []EvidenceInput
}

// Open creates a dispute in awaiting_seller_response, logs the opening
// message, and applies the open penalty to the seller's reputation.
func (s *Service) Open(ctx context.Context, p OpenParams) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Open", traces.OrderID(p.OrderID), traces.ActorID(p.BuyerID))
	defer span.End()

	if errs := validation.Validate(
		validation.Required("buyerId", p.BuyerID),
		validation.Required("sellerId", p.SellerID),
		validation.Required("orderId", p.OrderID),
		validation.Required("title", p.Title),
		validation.MinLength("description", p.Description, s.policy.MinDescriptionLen),
		validation.MaxLength("description", p.Description, validation.MaxStringLength),
		validation.PositiveAmount("amount", p.Amount),
		validation.ValidCurrency("currency", p.Currency),
		validation.Required("currency", p.Currency),
	); len(errs) > 0 {
		return nil, errs
	}
	if !ValidCategory(p.Category) {
		return nil, validation.ValidationErrors{{Field: "category", Message: "unrecognized category"}}
	}
	if len(p.Evidence) == 0 {
		return nil, validation.ValidationErrors{{Field: "evidence", Message: "at least one evidence reference is required"}}
	}
	if errs := validation.Validate(
		validation.EvidenceRefs("evidence", evidenceLocators(p.Evidence), s.policy.MaxEvidencePerMsg),
	); len(errs) > 0 {
		return nil, errs
	}
	if p.BuyerID == p.SellerID {
		return nil, validation.ValidationErrors{{Field: "sellerId", Message: "buyer and seller must differ"}}
	}

	if s.policy.MaxOpenPerSeller > 0 {
		n, err := s.store.CountOpenBySeller(ctx, p.SellerID)
		if err != nil {
			return nil, fmt.Errorf("count open disputes: %w", err)
		}
		if n >= s.policy.MaxOpenPerSeller {
			return nil, ErrTooManyOpen
		}
	}

	now := s.nowFn()
	d := &Dispute{
		ID:          idgen.WithPrefix("dsp_"),
		OrderID:     p.OrderID,
		BuyerID:     p.BuyerID,
		SellerID:    p.SellerID,
		Category:    p.Category,
		Title:       validation.SanitizeString(p.Title, 255),
		Description: validation.SanitizeString(p.Description, validation.MaxStringLength),
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      StatusAwaitingSellerResponse,
		Resolution:  ResolutionUndecided,
		Evidence:    s.buildEvidence(p.Evidence, p.BuyerID, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entry := s.entry(d.ID, p.BuyerID, RoleBuyer, d.Description, nil, now)
	if err := s.store.CreateWithTimeline(ctx, d, entry); err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}

	s.applyReputation(ctx, d.SellerID, -s.policy.OpenPenalty, "dispute_opened", d.ID)

	metrics.DisputesOpenedTotal.Inc()
	s.events.DisputeOpened(d)
	logging.L(ctx).Info("dispute opened",
		"dispute_id", d.ID, "order_id", d.OrderID, "buyer_id", d.BuyerID, "seller_id", d.SellerID,
		"category", d.Category, "amount", d.Amount, "currency", d.Currency)

	return d, nil
}

// SellerRespond records the seller's first response and moves the dispute
// to in_negotiation.
func (s *Service) SellerRespond(ctx context.Context, disputeID, callerID, text string, evidence []EvidenceInput) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.SellerRespond", traces.DisputeID(disputeID), traces.ActorID(callerID))
	defer span.End()

	if errs := validation.Validate(
		validation.MinLength("response", text, s.policy.MinResponseLen),
		validation.MaxLength("response", text, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}
	if errs := validation.Validate(
		validation.EvidenceRefs("evidence", evidenceLocators(evidence), s.policy.MaxEvidencePerMsg),
	); len(errs) > 0 {
		return nil, errs
	}

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if callerID != d.SellerID {
		return nil, ErrUnauthorized
	}
	if d.Status != StatusAwaitingSellerResponse {
		return nil, ErrInvalidTransition
	}

	now := s.nowFn()
	d.Status = StatusInNegotiation
	d.RespondedAt = &now
	d.UpdatedAt = now
	d.Evidence = append(d.Evidence, s.buildEvidence(evidence, callerID, now)...)

	entry := s.entry(d.ID, callerID, RoleSeller, validation.SanitizeString(text, validation.MaxStringLength), firstEvidence(evidence, callerID, now), now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return nil, fmt.Errorf("update dispute: %w", err)
	}

	s.events.SellerResponded(d)
	logging.L(ctx).Info("seller responded", "dispute_id", d.ID, "seller_id", callerID)
	return d, nil
}

// Propose records a standing resolution offer during negotiation. If the
// counterpart already proposed identical terms, the dispute resolves
// immediately; otherwise the new offer replaces any previous one.
func (s *Service) Propose(ctx context.Context, disputeID, callerID string, kind Resolution, amount int64) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Propose", traces.DisputeID(disputeID), traces.ActorID(callerID), traces.Resolution(string(kind)))
	defer span.End()

	if !ValidResolution(kind) {
		return nil, validation.ValidationErrors{{Field: "kind", Message: "unrecognized resolution kind"}}
	}

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	role := d.Party(callerID)
	if role == "" {
		return nil, ErrUnauthorized
	}
	if d.Status != StatusInNegotiation {
		return nil, ErrInvalidTransition
	}
	if err := checkResolutionAmount(d, kind, amount); err != nil {
		return nil, err
	}

	now := s.nowFn()

	// Convergence: counterpart already offered the same terms.
	if p := d.Proposal; p != nil && p.ProposedBy != callerID && p.Kind == kind && p.Amount == amount {
		return s.resolveLocked(ctx, d, kind, amount, callerID, role,
			fmt.Sprintf("Agreed to %s", describeResolution(kind, amount, d.Currency)), now)
	}

	d.Proposal = &Proposal{Kind: kind, Amount: amount, ProposedBy: callerID, Role: role, ProposedAt: now}
	d.UpdatedAt = now

	entry := s.entry(d.ID, callerID, role,
		fmt.Sprintf("Proposed %s", describeResolution(kind, amount, d.Currency)), nil, now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return nil, fmt.Errorf("update dispute: %w", err)
	}

	logging.L(ctx).Info("resolution proposed", "dispute_id", d.ID, "by", callerID, "kind", kind, "amount", amount)
	return d, nil
}

// Accept accepts the counterpart's standing proposal and resolves the dispute.
func (s *Service) Accept(ctx context.Context, disputeID, callerID string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Accept", traces.DisputeID(disputeID), traces.ActorID(callerID))
	defer span.End()

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	role := d.Party(callerID)
	if role == "" {
		return nil, ErrUnauthorized
	}
	if d.Status != StatusInNegotiation {
		return nil, ErrInvalidTransition
	}
	if d.Proposal == nil {
		return nil, ErrNoProposal
	}
	if d.Proposal.ProposedBy == callerID {
		return nil, ErrOwnProposal
	}

	now := s.nowFn()
	return s.resolveLocked(ctx, d, d.Proposal.Kind, d.Proposal.Amount, callerID, role,
		fmt.Sprintf("Accepted %s", describeResolution(d.Proposal.Kind, d.Proposal.Amount, d.Currency)), now)
}

// Escalate moves an in_negotiation dispute to admin_review at a party's request.
func (s *Service) Escalate(ctx context.Context, disputeID, callerID string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Escalate", traces.DisputeID(disputeID), traces.ActorID(callerID))
	defer span.End()

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	role := d.Party(callerID)
	if role == "" {
		return nil, ErrUnauthorized
	}
	if d.Status != StatusInNegotiation {
		return nil, ErrInvalidTransition
	}

	now := s.nowFn()
	return s.escalateLocked(ctx, d, callerID, role, "Escalated to admin review", "manual", now)
}

// AdminDecide resolves an admin_review dispute with a binding outcome and
// applies the outcome's reputation delta to the seller.
func (s *Service) AdminDecide(ctx context.Context, disputeID, adminID string, kind Resolution, amount int64, reasoning string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.AdminDecide", traces.DisputeID(disputeID), traces.ActorID(adminID), traces.Resolution(string(kind)))
	defer span.End()

	if !ValidResolution(kind) {
		return nil, validation.ValidationErrors{{Field: "kind", Message: "unrecognized resolution kind"}}
	}
	if errs := validation.Validate(
		validation.MinLength("reasoning", reasoning, s.policy.MinReasoningLen),
		validation.MaxLength("reasoning", reasoning, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusAdminReview {
		return nil, ErrInvalidTransition
	}
	if err := checkResolutionAmount(d, kind, amount); err != nil {
		return nil, err
	}

	now := s.nowFn()
	message := fmt.Sprintf("Decision: %s. %s", describeResolution(kind, amount, d.Currency),
		validation.SanitizeString(reasoning, validation.MaxStringLength))

	d, err = s.resolveLocked(ctx, d, kind, amount, adminID, RoleAdmin, message, now)
	if err != nil {
		return nil, err
	}

	// Reputation: a rejected claim vindicates the seller; a refund or
	// replacement means the seller was at fault. Mutual agreements stay neutral.
	switch kind {
	case ResolutionRejected:
		s.applyReputation(ctx, d.SellerID, s.policy.VindicationReward, "dispute_vindicated", d.ID)
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionReplacement:
		s.applyReputation(ctx, d.SellerID, -s.policy.FaultPenalty, "dispute_at_fault", d.ID)
	}

	return d, nil
}

// AppendMessage adds a timeline message without changing state. Parties and
// admins may post until the dispute closes.
func (s *Service) AppendMessage(ctx context.Context, disputeID, callerID string, callerRole Role, text string, evidence *EvidenceInput) (*TimelineEntry, error) {
	if errs := validation.Validate(
		validation.Required("message", text),
		validation.MaxLength("message", text, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}

	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	role := d.Party(callerID)
	if role == "" {
		if callerRole != RoleAdmin {
			return nil, ErrUnauthorized
		}
		role = RoleAdmin
	}
	if d.Status.IsTerminal() {
		return nil, ErrTimelineClosed
	}

	now := s.nowFn()
	var ev *EvidenceRef
	if evidence != nil {
		if !validation.IsValidEvidenceRef(evidence.Locator) {
			return nil, validation.ValidationErrors{{Field: "evidence", Message: "invalid evidence reference"}}
		}
		built := s.buildEvidence([]EvidenceInput{*evidence}, callerID, now)
		ev = &built[0]
		d.Evidence = append(d.Evidence, built[0])
		d.UpdatedAt = now
		entry := s.entry(d.ID, callerID, role, validation.SanitizeString(text, validation.MaxStringLength), ev, now)
		if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		return entry, nil
	}

	entry := s.entry(d.ID, callerID, role, validation.SanitizeString(text, validation.MaxStringLength), nil, now)
	if err := s.store.AppendTimeline(ctx, entry); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return entry, nil
}

// RecordSettlement marks the refund settled and closes the dispute.
// Idempotent: settling an already-closed dispute is a no-op.
func (s *Service) RecordSettlement(ctx context.Context, disputeID, externalRef string) error {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return err
	}
	if d.Status == StatusClosed && d.RefundStatus == RefundSettled {
		return nil
	}
	if d.Status != StatusResolved {
		return ErrInvalidTransition
	}

	now := s.nowFn()
	d.RefundStatus = RefundSettled
	d.Status = StatusClosed
	d.ClosedAt = &now
	d.UpdatedAt = now

	entry := s.entry(d.ID, "", RoleSystem,
		fmt.Sprintf("Refund settled (ref %s). Dispute closed.", externalRef), nil, now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}

	s.events.DisputeClosed(d)
	logging.L(ctx).Info("refund settled, dispute closed", "dispute_id", d.ID, "external_ref", externalRef)
	return nil
}

// RecordFailure marks the refund failed. When terminal (retry cap reached)
// it writes an operator-visible timeline alert; the dispute stays resolved
// so an admin can intervene.
func (s *Service) RecordFailure(ctx context.Context, disputeID, reason string, terminal bool) error {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return err
	}
	if d.Status != StatusResolved {
		return ErrInvalidTransition
	}

	now := s.nowFn()
	d.RefundStatus = RefundFailed
	d.UpdatedAt = now

	if !terminal {
		if err := s.store.UpdateWithTimeline(ctx, d); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		return nil
	}

	entry := s.entry(d.ID, "", RoleSystem,
		fmt.Sprintf("ALERT: refund disbursement failed after retries (%s). Manual intervention required.", reason), nil, now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	logging.L(ctx).Error("refund disbursement failed terminally",
		"dispute_id", d.ID, "reason", reason)
	return nil
}

// Reads

// Get returns a dispute if the caller is a party or an admin.
func (s *Service) Get(ctx context.Context, disputeID, callerID string, callerRole Role) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Party(callerID) == "" && callerRole != RoleAdmin {
		return nil, ErrUnauthorized
	}
	return d, nil
}

// GetTimeline returns the dispute's timeline in creation order.
func (s *Service) GetTimeline(ctx context.Context, disputeID, callerID string, callerRole Role) ([]*TimelineEntry, error) {
	if _, err := s.Get(ctx, disputeID, callerID, callerRole); err != nil {
		return nil, err
	}
	return s.store.ListTimeline(ctx, disputeID)
}

// ListForBuyer returns the buyer's disputes, newest first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, string, bool, error) {
	items, err := s.store.ListByBuyer(ctx, buyerID, limit+1, cursor)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(items, limit, disputeKey)
	return page, next, more, nil
}

// ListForSeller returns the seller's disputes, newest first.
func (s *Service) ListForSeller(ctx context.Context, sellerID string, limit int, cursor *pagination.Cursor) ([]*Dispute, string, bool, error) {
	items, err := s.store.ListBySeller(ctx, sellerID, limit+1, cursor)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(items, limit, disputeKey)
	return page, next, more, nil
}

// ListPendingReview returns disputes awaiting an admin decision.
func (s *Service) ListPendingReview(ctx context.Context, limit int) ([]*Dispute, error) {
	return s.store.ListByStatus(ctx, StatusAdminReview, limit)
}

// Internals

// resolveLocked sets the resolution and moves the dispute to resolved.
// Caller must hold the dispute lock.
func (s *Service) resolveLocked(ctx context.Context, d *Dispute, kind Resolution, amount int64, actorID string, role Role, message string, now time.Time) (*Dispute, error) {
	refund := ImpliesRefund(kind, amount)
	if refund && s.disburser == nil {
		return nil, fmt.Errorf("no disbursement gateway configured for refund resolution")
	}

	d.Status = StatusResolved
	d.Resolution = kind
	d.ResolutionAmount = amount
	d.Proposal = nil
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if refund {
		d.RefundStatus = RefundPending
	}

	entry := s.entry(d.ID, actorID, role, message, nil, now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return nil, fmt.Errorf("resolve dispute: %w", err)
	}

	// The disbursement record must exist before we report success; actual
	// gateway dispatch happens asynchronously in the disbursement worker.
	if refund {
		if err := s.disburser.CreateRequest(ctx, d.ID, d.BuyerID, amount, d.Currency); err != nil {
			logging.L(ctx).Error("create disbursement request failed",
				"dispute_id", d.ID, "error", err)
			return nil, fmt.Errorf("create disbursement request: %w", err)
		}
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(kind)).Inc()
	metrics.DisputeResolutionDuration.Observe(now.Sub(d.CreatedAt).Seconds())
	s.events.DisputeResolved(d)
	logging.L(ctx).Info("dispute resolved",
		"dispute_id", d.ID, "resolution", kind, "amount", amount, "by", actorID, "role", role)

	return d, nil
}

// escalateLocked moves a dispute to admin_review. Caller must hold the lock.
func (s *Service) escalateLocked(ctx context.Context, d *Dispute, actorID string, role Role, message, trigger string, now time.Time) (*Dispute, error) {
	d.Status = StatusAdminReview
	d.EscalatedAt = &now
	d.UpdatedAt = now

	entry := s.entry(d.ID, actorID, role, message, nil, now)
	if err := s.store.UpdateWithTimeline(ctx, d, entry); err != nil {
		return nil, fmt.Errorf("escalate dispute: %w", err)
	}

	metrics.DisputesEscalatedTotal.WithLabelValues(trigger).Inc()
	s.events.EscalatedToAdmin(d, trigger)
	logging.L(ctx).Info("dispute escalated", "dispute_id", d.ID, "trigger", trigger)
	return d, nil
}

func (s *Service) entry(disputeID, senderID string, role Role, message string, ev *EvidenceRef, now time.Time) *TimelineEntry {
	return &TimelineEntry{
		ID:        idgen.WithPrefix("tle_"),
		DisputeID: disputeID,
		SenderID:  senderID,
		Role:      role,
		Message:   message,
		Evidence:  ev,
		CreatedAt: now,
	}
}

func evidenceLocators(inputs []EvidenceInput) []string {
	refs := make([]string, len(inputs))
	for i, in := range inputs {
		refs[i] = in.Locator
	}
	return refs
}

func (s *Service) buildEvidence(inputs []EvidenceInput, uploaderID string, now time.Time) []EvidenceRef {
	refs := make([]EvidenceRef, 0, len(inputs))
	for _, in := range inputs {
		refs = append(refs, EvidenceRef{
			Locator:    in.Locator,
			MediaType:  in.MediaType,
			SizeBytes:  in.SizeBytes,
			UploadedBy: uploaderID,
			UploadedAt: now,
		})
	}
	return refs
}

// applyReputation applies a delta best-effort. Reputation is a side effect
// of an already-committed transition; a ledger failure is logged, not
// propagated, so the workflow state stays authoritative.
func (s *Service) applyReputation(ctx context.Context, sellerID string, delta int, reason, disputeID string) {
	if s.reputation == nil || delta == 0 {
		return
	}
	if _, err := s.reputation.ApplyDelta(ctx, sellerID, delta, reason, disputeID); err != nil {
		logging.L(ctx).Error("reputation delta failed",
			"seller_id", sellerID, "delta", delta, "reason", reason, "dispute_id", disputeID, "error", err)
	}
}

func checkResolutionAmount(d *Dispute, kind Resolution, amount int64) error {
	if amount < 0 {
		return validation.ValidationErrors{{Field: "amount", Message: "must not be negative"}}
	}
	if ImpliesRefund(kind, amount) && amount > d.Amount {
		return validation.ValidationErrors{{Field: "amount", Message: "refund exceeds dispute amount"}}
	}
	if kind == ResolutionFullRefund && amount != d.Amount {
		return validation.ValidationErrors{{Field: "amount", Message: "full refund must equal dispute amount"}}
	}
	if kind == ResolutionPartialRefund && amount == 0 {
		return validation.ValidationErrors{{Field: "amount", Message: "partial refund requires an amount"}}
	}
	return nil
}

func describeResolution(kind Resolution, amount int64, currency string) string {
	switch kind {
	case ResolutionFullRefund:
		return fmt.Sprintf("full refund of %d %s", amount, currency)
	case ResolutionPartialRefund:
		return fmt.Sprintf("partial refund of %d %s", amount, currency)
	case ResolutionReplacement:
		return "replacement of the item"
	case ResolutionRejected:
		return "rejection of the claim"
	case ResolutionMutualAgreement:
		if amount > 0 {
			return fmt.Sprintf("mutual agreement with %d %s refund", amount, currency)
		}
		return "mutual agreement"
	default:
		return string(kind)
	}
}

func firstEvidence(inputs []EvidenceInput, uploaderID string, now time.Time) *EvidenceRef {
	if len(inputs) == 0 {
		return nil
	}
	return &EvidenceRef{
		Locator:    inputs[0].Locator,
		MediaType:  inputs[0].MediaType,
		SizeBytes:  inputs[0].SizeBytes,
		UploadedBy: uploaderID,
		UploadedAt: now,
	}
}

func disputeKey(d *Dispute) (time.Time, string) {
	return d.CreatedAt, d.ID
}
