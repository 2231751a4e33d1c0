package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the accountcheck MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeAccount = mcp.NewTool("analyze_account",
	mcp.WithDescription(
		"Score a social media account for authenticity from its public counters. "+
			"Returns a 0-100 score, a status (real, suspicious or fake), the reasons, "+
			"and any red flags. The result is saved to history."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Account handle, e.g. 'jane_doe'")),
	mcp.WithNumber("followers",
		mcp.Description("Number of followers")),
	mcp.WithNumber("following",
		mcp.Description("Number of accounts this account follows")),
	mcp.WithNumber("posts",
		mcp.Description("Number of posts published")),
	mcp.WithNumber("account_age",
		mcp.Description("Account age in months; fractions allowed (0.5 = two weeks)")),
)

var ToolGetHistory = mcp.NewTool("get_history",
	mcp.WithDescription(
		"List previously scored accounts, newest first. "+
			"Pass a username to see how one account's score changed over time."),
	mcp.WithString("username",
		mcp.Description("Only return analyses for this handle")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of analyses to return (1-100, default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous get_history call to fetch the next page")),
)

var ToolGetStats = mcp.NewTool("get_stats",
	mcp.WithDescription(
		"Summarize all stored analyses: totals per status, average score, "+
			"how often each red flag fired, and a day-by-day breakdown of the last week."),
)

var ToolListFeatures = mcp.NewTool("list_features",
	mcp.WithDescription(
		"Describe the inputs analyze_account accepts and the red flags it can raise."),
)
