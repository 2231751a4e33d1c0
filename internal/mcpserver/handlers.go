package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/apiclient"
	"github.com/mbd888/accountcheck/internal/authenticity"
)

// defaultHistoryLimit keeps tool output readable for an LLM.
const defaultHistoryLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeAccount scores one account.
func (h *Handlers) HandleAnalyzeAccount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := strings.TrimSpace(req.GetString("username", ""))
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}

	args := req.GetArguments()
	account := map[string]any{"username": username}
	for tool, api := range map[string]string{
		"followers":   "followers",
		"following":   "following",
		"posts":       "posts",
		"account_age": "accountAge",
	} {
		if v, ok := args[tool]; ok && v != nil {
			account[api] = v
		}
	}

	resp, err := h.client.Analyze(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze account: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAnalysis(username, resp)), nil
}

// HandleGetHistory lists stored analyses.
func (h *Handlers) HandleGetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := strings.TrimSpace(req.GetString("username", ""))
	limit := req.GetInt("limit", defaultHistoryLimit)
	cursor := req.GetString("cursor", "")

	resp, err := h.client.History(ctx, username, limit, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}
	return mcp.NewToolResultText(formatHistory(username, resp)), nil
}

// HandleGetStats summarizes stored analyses.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.client.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}
	return mcp.NewToolResultText(formatStats(stats)), nil
}

// HandleListFeatures describes the scoring inputs.
func (h *Handlers) HandleListFeatures(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := h.client.Features(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list features: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Inputs:\n")
	for _, f := range resp.Features {
		required := ""
		if f.Required {
			required = ", required"
		}
		fmt.Fprintf(&sb, "  %s (%s%s): %s\n", f.Name, f.Type, required, f.Description)
	}
	if len(resp.Flags) > 0 {
		fmt.Fprintf(&sb, "\nRed flags: %s\n", strings.Join(resp.Flags, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatAnalysis(username string, resp *analysis.AnalyzeResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Account: %s\n", username)
	fmt.Fprintf(&sb, "Verdict: %s (score %d/100)\n", strings.ToUpper(string(resp.Status)), resp.Score)
	fmt.Fprintf(&sb, "Flags: %s\n", formatFlags(resp.Flags))
	fmt.Fprintf(&sb, "Follower ratio: %.2f | Posts/month: %.1f | Engagement: %.2f\n",
		resp.Signals.Ratio, resp.Signals.PostsPerMonth, resp.Signals.EngagementRate)
	if d := strings.TrimSpace(resp.Details); d != "" {
		fmt.Fprintf(&sb, "\nWhy:\n%s\n", bulletize(d))
	}
	if resp.Stored {
		fmt.Fprintf(&sb, "\nSaved to history (ID: %s)", resp.ID)
	} else if resp.Warning != "" {
		fmt.Fprintf(&sb, "\nWarning: %s", resp.Warning)
	}
	return sb.String()
}

// bulletize turns the sentence list in details into one bullet per line.
func bulletize(details string) string {
	var lines []string
	for _, s := range strings.Split(details, ". ") {
		s = strings.TrimSuffix(strings.TrimSpace(s), ".")
		if s != "" {
			lines = append(lines, "  - "+s)
		}
	}
	return strings.Join(lines, "\n")
}

func formatFlags(flags []authenticity.Flag) string {
	if len(flags) == 0 {
		return "none"
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return strings.Join(out, ", ")
}

func formatHistory(username string, resp *apiclient.HistoryResponse) string {
	if len(resp.History) == 0 {
		if username != "" {
			return fmt.Sprintf("No analyses found for %s.", username)
		}
		return "No analyses found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d analysis(es):\n\n", len(resp.History))
	for i, rec := range resp.History {
		fmt.Fprintf(&sb, "%d. %s: %s (%d) at %s\n", i+1, rec.Username, rec.Result.Status,
			rec.Result.Score, rec.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
		fmt.Fprintf(&sb, "   followers %d | following %d | posts %d | age %g months\n",
			rec.Followers, rec.Following, rec.Posts, rec.AccountAge)
		if len(rec.Result.Flags) > 0 {
			fmt.Fprintf(&sb, "   flags: %s\n", formatFlags(rec.Result.Flags))
		}
	}
	if resp.HasMore {
		fmt.Fprintf(&sb, "\nMore results available. Call get_history with cursor %q.", resp.NextCursor)
	}
	return sb.String()
}

func formatStats(stats *analysis.Stats) string {
	var sb strings.Builder
	sb.WriteString("Analysis Statistics:\n")
	fmt.Fprintf(&sb, "  Total analyses: %d (%d unique accounts)\n", stats.Total, stats.UniqueAccounts)
	fmt.Fprintf(&sb, "  Average score: %.1f\n", stats.AverageScore)
	fmt.Fprintf(&sb, "  Real: %d | Suspicious: %d | Fake: %d\n",
		stats.ByStatus[authenticity.StatusReal],
		stats.ByStatus[authenticity.StatusSuspicious],
		stats.ByStatus[authenticity.StatusFake])

	sb.WriteString("\nRed flags raised:\n")
	for _, f := range authenticity.Flags {
		fmt.Fprintf(&sb, "  %s: %d\n", f, stats.Flags[f])
	}

	if len(stats.Daily) > 0 {
		sb.WriteString("\nLast 7 days:\n")
		for _, d := range stats.Daily {
			fmt.Fprintf(&sb, "  %s: %d total (%d real, %d suspicious, %d fake)\n",
				d.Date, d.Total, d.Real, d.Suspicious, d.Fake)
		}
	}
	return sb.String()
}
