package entities

import "time"

// KeyFinding is one ranked entry of a session summary
type KeyFinding struct {
	FrameIndex  int       `json:"frame_index"`
	TimestampMS int64     `json:"timestamp_ms"`
	Location    string    `json:"location"`
	Finding     string    `json:"finding"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Confidence  float64   `json:"confidence"`
	Text        string    `json:"text"`
}

// SessionSummary aggregates all analyses of a session
type SessionSummary struct {
	SessionID     string       `json:"session_id" db:"session_id"`
	Overview      string       `json:"overview" db:"overview"`
	KeyFindings   []KeyFinding `json:"key_findings" db:"key_findings"`
	TotalAnalyzed int          `json:"total_analyzed" db:"total_analyzed"`
	HighRisk      int          `json:"high_risk" db:"high_risk"`
	MediumRisk    int          `json:"medium_risk" db:"medium_risk"`
	Regions       []string     `json:"regions" db:"regions"`
	GeneratedAt   time.Time    `json:"generated_at" db:"generated_at"`
}
