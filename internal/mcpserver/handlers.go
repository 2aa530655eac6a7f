package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/approvalguard/internal/recommend"
	"github.com/mbd888/approvalguard/internal/scan"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ScannerClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ScannerClient) *Handlers {
	return &Handlers{client: client}
}

// HandleScanWallet runs a fresh scan and returns the formatted report.
func (h *Handlers) HandleScanWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	if owner == "" {
		return mcp.NewToolResultError("owner is required"), nil
	}
	includeZero := req.GetBool("include_zero", false)
	force := req.GetBool("force", false)

	raw, err := h.client.ScanWallet(ctx, owner, includeZero, force)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetWalletReport returns the latest stored report without re-scanning.
func (h *Handlers) HandleGetWalletReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	if owner == "" {
		return mcp.NewToolResultError("owner is required"), nil
	}

	raw, err := h.client.GetWalletReport(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get report: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListRiskyApprovals lists revocation candidates from the latest report.
func (h *Handlers) HandleListRiskyApprovals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	if owner == "" {
		return mcp.NewToolResultError("owner is required"), nil
	}

	raw, err := h.client.ListApprovals(ctx, owner, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list approvals: %v", err)), nil
	}

	var resp struct {
		Owner           string                     `json:"owner"`
		GeneratedAt     time.Time                  `json:"generatedAt"`
		Summary         recommend.Summary          `json:"summary"`
		Recommendations []recommend.Recommendation `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse approvals: %v", err)), nil
	}

	if len(resp.Recommendations) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf(
			"No risky approvals found for %s.\n"+
				"All %d outstanding approval(s) are below the revocation threshold.",
			resp.Owner, resp.Summary.TotalApprovals)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d approval(s) recommended for revocation (wallet %s):\n\n",
		len(resp.Recommendations), resp.Owner)
	for i, rec := range resp.Recommendations {
		writeRecommendation(&sb, i+1, rec)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatReport(raw json.RawMessage) (string, error) {
	var report scan.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Approval report for %s (chain %d)\n", report.Owner, report.ChainID)
	fmt.Fprintf(&sb, "Scanned blocks %d-%d at %s\n\n",
		report.FromBlock, report.ToBlock, report.GeneratedAt.Format(time.RFC3339))

	s := report.Summary
	fmt.Fprintf(&sb, "Overall risk: %d/100 (%s)\n", s.OverallScore, s.OverallLevel)
	fmt.Fprintf(&sb, "Approvals: %d total", s.TotalApprovals)
	if s.RevokeCount > 0 {
		fmt.Fprintf(&sb, ", %d recommended for revocation", s.RevokeCount)
	}
	sb.WriteString("\n")
	for _, level := range []string{"critical", "high", "medium", "low"} {
		if n := levelCount(s, level); n > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", level, n)
		}
	}

	if len(report.Recommendations) == 0 {
		sb.WriteString("\nNo outstanding approvals found in the scanned range.")
		return sb.String(), nil
	}

	// Lead with revocation candidates; the full list can get long.
	sb.WriteString("\nRevocation candidates (most urgent first):\n\n")
	shown := 0
	for _, rec := range report.Recommendations {
		if !rec.ShouldRevoke {
			continue
		}
		shown++
		writeRecommendation(&sb, shown, rec)
	}
	if shown == 0 {
		sb.WriteString("  None. All approvals are below the revocation threshold.\n")
	}

	return sb.String(), nil
}

func writeRecommendation(sb *strings.Builder, n int, rec recommend.Recommendation) {
	st, a := rec.State, rec.Assessment
	fmt.Fprintf(sb, "%d. [%s] spender %s\n", n, strings.ToUpper(string(a.Level)), st.Spender)
	fmt.Fprintf(sb, "   Token: %s\n", st.TokenAddress)

	allowance := "limited"
	if st.IsUnlimited {
		allowance = "UNLIMITED"
	}
	fmt.Fprintf(sb, "   Allowance: %s | Score: %d/100 | Urgency: %s\n",
		allowance, a.Score, rec.Urgency)

	for _, f := range a.Factors {
		fmt.Fprintf(sb, "   - %s\n", f.Description)
	}
	if a.Recommendation != "" {
		fmt.Fprintf(sb, "   Action: %s\n", a.Recommendation)
	}
	sb.WriteString("\n")
}

func levelCount(s recommend.Summary, level string) int {
	for l, n := range s.ByLevel {
		if string(l) == level {
			return n
		}
	}
	return 0
}
