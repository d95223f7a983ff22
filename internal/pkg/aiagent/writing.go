package aiagent

import (
	"context"
	"encoding/json"
)

// AnalyzeRequest is the payload of POST /analyze-writing.
type AnalyzeRequest struct {
	SubmissionID   string `json:"submissionId"`
	UserID         string `json:"userId"`
	StudentWriting string `json:"studentWriting"`
	OriginalPrompt string `json:"originalPrompt"`
	AgeGroup       string `json:"ageGroup"`
}

// Analysis is the scored feedback for a piece of writing. Feedback is kept
// as the raw JSON document the agent produced.
type Analysis struct {
	Success      bool            `json:"success"`
	Blocked      bool            `json:"blocked"`
	Score        int             `json:"score"`
	Feedback     json.RawMessage `json:"feedback"`
	AlertMessage string          `json:"alertMessage,omitempty"`
}

// SafetyRequest is the payload of POST /check-content-safety.
type SafetyRequest struct {
	Text     string `json:"text"`
	AgeGroup string `json:"ageGroup"`
	Context  string `json:"context,omitempty"`
}

// SafetyVerdict is the content screening result.
type SafetyVerdict struct {
	IsSafe       bool   `json:"isSafe"`
	RiskLevel    string `json:"riskLevel,omitempty"`
	Reason       string `json:"reason,omitempty"`
	AlertMessage string `json:"alertMessage,omitempty"`
}

// AnalyzeWriting scores a submission and returns the feedback document.
func (c *Client) AnalyzeWriting(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	var out Analysis
	if err := c.post(ctx, "/analyze-writing", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckContentSafety screens text before it is scored.
func (c *Client) CheckContentSafety(ctx context.Context, req SafetyRequest) (*SafetyVerdict, error) {
	var out SafetyVerdict
	if err := c.post(ctx, "/check-content-safety", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
