package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetDispute fetches and formats one dispute.
func (h *Handlers) HandleGetDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	disputeID := req.GetString("dispute_id", "")
	if disputeID == "" {
		return mcp.NewToolResultError("dispute_id is required"), nil
	}

	raw, err := h.client.GetDispute(ctx, disputeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get dispute: %v", err)), nil
	}

	text, err := formatDispute(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse dispute: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetDisputeTimeline fetches and formats a dispute's timeline.
func (h *Handlers) HandleGetDisputeTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	disputeID := req.GetString("dispute_id", "")
	if disputeID == "" {
		return mcp.NewToolResultError("dispute_id is required"), nil
	}

	raw, err := h.client.GetTimeline(ctx, disputeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get timeline: %v", err)), nil
	}

	text, err := formatTimeline(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse timeline: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListMyDisputes lists the caller's disputes.
func (h *Handlers) HandleListMyDisputes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyDisputes(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list disputes: %v", err)), nil
	}

	text, err := formatDisputeList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse disputes: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListPendingReview lists the admin arbitration queue.
func (h *Handlers) HandleListPendingReview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListPendingReview(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list review queue: %v", err)), nil
	}

	text, err := formatDisputeList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse disputes: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetSellerReputation fetches a seller's score.
func (h *Handlers) HandleGetSellerReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sellerID := req.GetString("seller_id", "")
	if sellerID == "" {
		return mcp.NewToolResultError("seller_id is required"), nil
	}

	raw, err := h.client.GetSellerReputation(ctx, sellerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	text, err := formatReputation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatters ---

type disputeView struct {
	ID               string `json:"id"`
	OrderID          string `json:"orderId"`
	BuyerID          string `json:"buyerId"`
	SellerID         string `json:"sellerId"`
	Category         string `json:"category"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	Resolution       string `json:"resolution"`
	ResolutionAmount int64  `json:"resolutionAmount"`
	RefundStatus     string `json:"refundStatus"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Proposal         *struct {
		Kind       string `json:"kind"`
		Amount     int64  `json:"amount"`
		ProposedBy string `json:"proposedBy"`
	} `json:"proposal"`
	CreatedAt time.Time `json:"createdAt"`
}

func formatDispute(raw json.RawMessage) (string, error) {
	var d disputeView
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dispute %s (%s)\n", d.ID, d.Status)
	fmt.Fprintf(&sb, "Order: %s | Category: %s\n", d.OrderID, d.Category)
	fmt.Fprintf(&sb, "Title: %s\n", d.Title)
	fmt.Fprintf(&sb, "Amount in dispute: %s\n", formatAmount(d.Amount, d.Currency))
	fmt.Fprintf(&sb, "Buyer: %s | Seller: %s\n", d.BuyerID, d.SellerID)
	fmt.Fprintf(&sb, "Opened: %s\n", d.CreatedAt.Format(time.RFC3339))

	if d.Proposal != nil {
		fmt.Fprintf(&sb, "Standing proposal: %s", d.Proposal.Kind)
		if d.Proposal.Amount > 0 {
			fmt.Fprintf(&sb, " (%s)", formatAmount(d.Proposal.Amount, d.Currency))
		}
		fmt.Fprintf(&sb, " from %s\n", d.Proposal.ProposedBy)
	}
	if d.Resolution != "" && d.Resolution != "undecided" {
		fmt.Fprintf(&sb, "Resolution: %s", d.Resolution)
		if d.ResolutionAmount > 0 {
			fmt.Fprintf(&sb, " (%s)", formatAmount(d.ResolutionAmount, d.Currency))
		}
		sb.WriteString("\n")
	}
	if d.RefundStatus != "" {
		fmt.Fprintf(&sb, "Refund: %s\n", d.RefundStatus)
	}

	return sb.String(), nil
}

func formatDisputeList(raw json.RawMessage) (string, error) {
	var resp struct {
		Disputes []disputeView `json:"disputes"`
		Count    int           `json:"count"`
		HasMore  bool          `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Disputes) == 0 {
		return "No disputes found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d dispute(s):\n\n", resp.Count)
	for _, d := range resp.Disputes {
		fmt.Fprintf(&sb, "- %s [%s] %s — %s, opened %s\n",
			d.ID, d.Status, d.Title, formatAmount(d.Amount, d.Currency),
			d.CreatedAt.Format("2006-01-02"))
	}
	if resp.HasMore {
		sb.WriteString("\n(more available, raise limit to see them)")
	}
	return sb.String(), nil
}

func formatTimeline(raw json.RawMessage) (string, error) {
	var resp struct {
		Entries []struct {
			Role      string    `json:"role"`
			SenderID  string    `json:"senderId"`
			Message   string    `json:"message"`
			CreatedAt time.Time `json:"createdAt"`
			Evidence  *struct {
				Locator string `json:"locator"`
			} `json:"evidence"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Entries) == 0 {
		return "Timeline is empty.", nil
	}

	var sb strings.Builder
	for _, e := range resp.Entries {
		who := e.Role
		if e.SenderID != "" {
			who = fmt.Sprintf("%s (%s)", e.Role, e.SenderID)
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.CreatedAt.Format(time.RFC3339), who, e.Message)
		if e.Evidence != nil {
			fmt.Fprintf(&sb, "    evidence: %s\n", e.Evidence.Locator)
		}
	}
	return sb.String(), nil
}

func formatReputation(raw json.RawMessage) (string, error) {
	var r struct {
		SellerID      string `json:"sellerId"`
		Score         int    `json:"score"`
		DisputesTotal int    `json:"disputesTotal"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}

	standing := "good standing"
	switch {
	case r.Score < 40:
		standing = "poor standing"
	case r.Score < 70:
		standing = "at risk"
	}
	return fmt.Sprintf("Seller %s: score %d/100 (%s)", r.SellerID, r.Score, standing), nil
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
