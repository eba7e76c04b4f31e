package constants

// Static route constants
const (
	BillingWebhookRoute = "/webhooks/billing"
	AdminAPIPrefix      = "/admin/api"
	HealthRoute         = "/up"
	MetricsRoute        = "/metrics"
)
