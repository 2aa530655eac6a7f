package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the approvalguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScanWallet = mcp.NewTool("scan_wallet",
	mcp.WithDescription(
		"Scan a wallet's ERC-20 token approval history and score every outstanding approval. "+
			"Returns risk levels, contributing factors, and prioritized revocation recommendations. "+
			"Read-only: never signs or submits transactions."),
	mcp.WithString("owner",
		mcp.Required(),
		mcp.Description("The wallet address to scan (e.g. '0x1234...')")),
	mcp.WithBoolean("include_zero",
		mcp.Description("Also include fully revoked (zero-allowance) approvals for audit purposes")),
	mcp.WithBoolean("force",
		mcp.Description("Bypass the cached report and re-scan the chain")),
)

var ToolGetWalletReport = mcp.NewTool("get_wallet_report",
	mcp.WithDescription(
		"Fetch the most recent stored scan report for a wallet without re-scanning. "+
			"Use scan_wallet first if no report exists yet."),
	mcp.WithString("owner",
		mcp.Required(),
		mcp.Description("The wallet address (e.g. '0x1234...')")),
)

var ToolListRiskyApprovals = mcp.NewTool("list_risky_approvals",
	mcp.WithDescription(
		"List the approvals from a wallet's latest report that should be revoked, "+
			"ordered by urgency. Each entry names the token, the spender, the risk level, "+
			"and why it was flagged."),
	mcp.WithString("owner",
		mcp.Required(),
		mcp.Description("The wallet address (e.g. '0x1234...')")),
)
