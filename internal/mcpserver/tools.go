package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Atlas MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScoreEvent = mcp.NewTool("score_event",
	mcp.WithDescription(
		"Score a transaction for fraud risk. Runs the full pipeline: a 0-100 risk score with "+
			"level and recommended action, the top contributing factors, alerting, cross-transaction "+
			"pattern detection, and automated response rules. The decision lands in the audit trail."),
	mcp.WithObject("event",
		mcp.Required(),
		mcp.Description("The transaction to score, e.g. {\"id\": \"txn_1\", \"user_id\": \"user_42\", "+
			"\"amount\": 250.0, \"currency\": \"USD\", \"timestamp\": \"2026-03-05T14:00:00Z\", "+
			"\"merchant\": \"merch_9\", \"merchant_category\": \"electronics\", "+
			"\"location\": {\"country\": \"US\", \"city\": \"NYC\", \"lat\": 40.7, \"lon\": -74.0}, "+
			"\"device\": {\"fingerprint\": \"fp_1\"}}")),
)

var ToolGetUserProfile = mcp.NewTool("get_user_profile",
	mcp.WithDescription(
		"Get a user's behavioral profile: transaction count, rolling amount statistics, "+
			"known countries and devices, activity rate, and confirmed fraud incidents. "+
			"Users with no history return population defaults."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose profile to fetch (e.g. 'user_42')")),
)

var ToolGetAuditTrail = mcp.NewTool("get_audit_trail",
	mcp.WithDescription(
		"Get the append-only audit trail for a scored event: the system decision and any "+
			"operator overrides, oldest first, each with its tamper-detection hash verified."),
	mcp.WithString("event_id",
		mcp.Required(),
		mcp.Description("The event whose trail to fetch (e.g. 'txn_1')")),
)

var ToolOverrideAction = mcp.NewTool("override_action",
	mcp.WithDescription(
		"Override the recommended action for a scored event. The original recommendation is "+
			"preserved and the override is appended to the audit trail with your reason. "+
			"Use after reviewing an assessment that the model got wrong."),
	mcp.WithString("event_id",
		mcp.Required(),
		mcp.Description("The scored event to override")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("The action to apply instead"),
		mcp.Enum("approve", "review", "block")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the recommendation is being replaced")),
	mcp.WithString("analyst",
		mcp.Description("Your analyst identifier for the audit record (default 'mcp-analyst')")),
)

var ToolListAlerts = mcp.NewTool("list_alerts",
	mcp.WithDescription(
		"List open fraud alerts, newest first. Covers high and critical assessments plus "+
			"detected fraud patterns. Acknowledged alerts stay in the queue until closed."),
	mcp.WithString("severity",
		mcp.Description("Only alerts of this severity"),
		mcp.Enum("critical", "high", "medium")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 20)")),
)

var ToolAcknowledgeAlert = mcp.NewTool("acknowledge_alert",
	mcp.WithDescription(
		"Mark an open alert as being worked. The alert stays in the active queue until "+
			"closed with close_alert."),
	mcp.WithString("alert_id",
		mcp.Required(),
		mcp.Description("The alert to acknowledge (e.g. 'alert_a1b2c3d4e5f6')")),
	mcp.WithString("analyst",
		mcp.Description("Your analyst identifier (default 'mcp-analyst')")),
)

var ToolCloseAlert = mcp.NewTool("close_alert",
	mcp.WithDescription(
		"Close an alert as resolved (investigated, action taken) or dismissed (false "+
			"positive). Closed alerts leave the active queue but stay fetchable."),
	mcp.WithString("alert_id",
		mcp.Required(),
		mcp.Description("The alert to close")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("How the investigation ended"),
		mcp.Enum("resolved", "dismissed")),
	mcp.WithString("note",
		mcp.Required(),
		mcp.Description("Resolution note or dismissal reason")),
	mcp.WithString("analyst",
		mcp.Description("Your analyst identifier (default 'mcp-analyst')")),
)

var ToolGetRiskStats = mcp.NewTool("get_risk_stats",
	mcp.WithDescription(
		"Get the current risk posture: open alert counts by severity and type, automated "+
			"response totals by rule, and the loaded model version with its training metrics."),
)
