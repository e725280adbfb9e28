package api

import (
	"strings"
	"time"
)

// Style is a named caption voice offered by the backend. The "custom" style
// is special: it carries a free-text description instead of a preset.
type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StyleCustom is the style id that requires a user-written description.
const StyleCustom = "custom"

// StyleDefault is the style selected after a reset.
const StyleDefault = "creative"

// DefaultStyles is the fallback set used when the style listing call fails.
func DefaultStyles() []Style {
	return []Style{
		{ID: "creative", Name: "Creative", Description: "Engaging and imaginative"},
		{ID: "funny", Name: "Funny", Description: "Humorous and witty"},
		{ID: "poetic", Name: "Poetic", Description: "Beautiful and literary"},
		{ID: "marketing", Name: "Marketing", Description: "Compelling and attention-grabbing"},
		{ID: "social", Name: "Social Media", Description: "Perfect for social platforms"},
		{ID: "artistic", Name: "Artistic", Description: "Sophisticated and refined"},
		{ID: StyleCustom, Name: "Custom", Description: "Describe your own style"},
	}
}

// Signature is a short-lived, single-use credential for a direct upload to
// the media host.
type Signature struct {
	APIKey    string `json:"api_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	CloudName string `json:"cloud_name"`
}

// GenerateRequest is the payload for a caption generation call.
type GenerateRequest struct {
	ImageURL          string `json:"image_url"`
	Style             string `json:"style"`
	CustomDescription string `json:"custom_description,omitempty"`
}

// CaptionResult holds both caption variants returned by a generation call.
type CaptionResult struct {
	Enhanced string
	Basic    string
}

// HistoryRecord is one persisted past generation, server-assigned id.
type HistoryRecord struct {
	ID                string `json:"id"`
	ImageURL          string `json:"image_url"`
	EnhancedCaption   string `json:"enhanced_caption"`
	Style             string `json:"style"`
	CustomDescription string `json:"custom_description,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// CreatedTime parses the server timestamp. The backend stores UTC but is not
// consistent about the trailing Z or the T separator.
func (r HistoryRecord) CreatedTime() (time.Time, bool) {
	s := strings.TrimSpace(r.CreatedAt)
	if s == "" {
		return time.Time{}, false
	}
	if !strings.HasSuffix(s, "Z") {
		s = strings.Replace(s, " ", "T", 1) + "Z"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
