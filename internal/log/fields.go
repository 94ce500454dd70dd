package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldRuleID      = "rule_id"
	FieldAccountID   = "account_id"
	FieldAmountCents = "amount_cents"
	FieldFrequency   = "frequency"
	FieldNextDue     = "next_due"
)

// Components defines standard component names
const (
	ComponentHTTP = "http"
)
