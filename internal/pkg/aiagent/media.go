package aiagent

import (
	"context"
	"encoding/base64"
	"fmt"
)

// ImageRequest is the payload of POST /generate-image.
type ImageRequest struct {
	SubmissionID   string `json:"submissionId"`
	UserID         string `json:"userId"`
	StudentWriting string `json:"studentWriting"`
	AgeGroup       string `json:"ageGroup"`
	ImageIndex     int    `json:"imageIndex"`
	ImageStyle     string `json:"imageStyle"`
}

// VideoRequest is the payload of POST /generate-video.
type VideoRequest struct {
	SubmissionID   string `json:"submissionId"`
	UserID         string `json:"userId"`
	StudentWriting string `json:"studentWriting"`
	AgeGroup       string `json:"ageGroup"`
	VideoStyle     string `json:"videoStyle"`
}

// Generated is a media generation response. The agent either hosts the
// asset itself (ImageURL/VideoURL) or returns it inline as base64 Data.
type Generated struct {
	Success     bool   `json:"success"`
	ImageURL    string `json:"imageUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	Data        string `json:"data,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	Error       string `json:"error,omitempty"`
}

// URL returns the hosted asset URL, if any.
func (g *Generated) URL() string {
	if g.ImageURL != "" {
		return g.ImageURL
	}
	return g.VideoURL
}

// Bytes decodes the inline asset.
func (g *Generated) Bytes() ([]byte, error) {
	if g.Data == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(g.Data)
	if err != nil {
		return nil, fmt.Errorf("ai agent decode asset: %w", err)
	}
	return b, nil
}

func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*Generated, error) {
	var out Generated
	if err := c.post(ctx, "/generate-image", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*Generated, error) {
	var out Generated
	if err := c.post(ctx, "/generate-video", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
