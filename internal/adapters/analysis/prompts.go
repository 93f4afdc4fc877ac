package analysis

// snapshotPrompt asks for the labeled-field grammar understood by the findings parser.
const snapshotPrompt = `You are MedVisor assisting an endoscopist.

Analyze this medical procedure snapshot.

Return ONLY structured output:

Finding:
Location:
Risk Level (Low/Medium/High):
Suggested Next Step:

Do NOT provide definitive diagnosis.
Be cautious and clinician-supportive.`

type analyzeRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"image_base64"`
	MaxTokens   int    `json:"max_new_tokens"`
}

// analyzeResponse is the inference server reply. Only text is required; the
// structured fields are filled by servers that parse server-side.
type analyzeResponse struct {
	Text       string   `json:"text"`
	Finding    string   `json:"finding,omitempty"`
	Location   string   `json:"location,omitempty"`
	RiskLevel  string   `json:"risk_level,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Features   []string `json:"features,omitempty"`
}
