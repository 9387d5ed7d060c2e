package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the dispute platform MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetDispute = mcp.NewTool("get_dispute",
	mcp.WithDescription(
		"Fetch a marketplace dispute by ID. "+
			"Returns the dispute's state, category, amounts, standing proposal, and refund status. "+
			"You can only see disputes you are a party to (admins see all)."),
	mcp.WithString("dispute_id",
		mcp.Required(),
		mcp.Description("The dispute ID (e.g. 'dsp_1a2b3c...')")),
)

var ToolGetDisputeTimeline = mcp.NewTool("get_dispute_timeline",
	mcp.WithDescription(
		"Fetch the full message timeline of a dispute in chronological order. "+
			"Includes party messages, evidence references, proposals, and system entries "+
			"like deadline escalations and refund settlements."),
	mcp.WithString("dispute_id",
		mcp.Required(),
		mcp.Description("The dispute ID (e.g. 'dsp_1a2b3c...')")),
)

var ToolListMyDisputes = mcp.NewTool("list_my_disputes",
	mcp.WithDescription(
		"List your disputes, newest first. "+
			"Buyers see disputes they opened; sellers see disputes filed against them."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of disputes to return (default 20)")),
)

var ToolListPendingReview = mcp.NewTool("list_pending_review",
	mcp.WithDescription(
		"List disputes waiting for an admin decision, oldest escalations first. "+
			"Requires an admin API key. Use this to triage the arbitration queue."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of disputes to return (default 20)")),
)

var ToolGetSellerReputation = mcp.NewTool("get_seller_reputation",
	mcp.WithDescription(
		"Get a seller's reputation score (0-100, fresh sellers start at 100). "+
			"Scores drop when disputes are opened or decided against the seller "+
			"and recover when claims are rejected."),
	mcp.WithString("seller_id",
		mcp.Required(),
		mcp.Description("The seller's user ID (e.g. 'usr_1a2b3c...')")),
)
