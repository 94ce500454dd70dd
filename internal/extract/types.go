package extract

// Category identifies a category the caller offers the model to pick from.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Result is a fully typed, sanitized receipt extraction. Every field has been
// through the boundary checks in Sanitize; callers can trust the ranges.
type Result struct {
	Description       string    `json:"description"`
	Amount            float64   `json:"amount"`
	Date              string    `json:"date"` // YYYY-MM-DD
	Merchant          string    `json:"merchant,omitempty"`
	Tax               float64   `json:"tax"`
	Tip               float64   `json:"tip"`
	Confidence        int       `json:"confidence"` // 0-100
	SuggestedCategory *Category `json:"suggested_category,omitempty"`
	Uncertainties     []string  `json:"uncertainties"`
	RawText           string    `json:"raw_text,omitempty"`
}
