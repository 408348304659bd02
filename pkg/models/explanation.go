package models

import "time"

// ExplanationSource records which generator produced an explanation.
type ExplanationSource string

const (
	ExplanationGemini ExplanationSource = "gemini"
	ExplanationMock   ExplanationSource = "mock"
)

// Explanation is a generated chart commentary for one stock and period.
// It is both the cached result and the audit trail of what was generated.
type Explanation struct {
	ID              string            `json:"id"`
	StockCode       string            `json:"stock_code"`
	ChartPeriod     string            `json:"chart_period"`
	ExplanationText string            `json:"explanation_text"`
	TechnicalData   Indicators        `json:"technical_data"`
	Source          ExplanationSource `json:"source"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}
