package models

import "strings"

// SearchResult is a raw hit from a search provider, before ingestion
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Image   string `json:"image,omitempty"`
	Favicon string `json:"favicon,omitempty"`
}

// ToResource applies the ingestion rules. ok is false when the result has no usable title.
func (r SearchResult) ToResource() (res Resource, ok bool) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return Resource{}, false
	}

	image := strings.TrimSpace(r.Image)
	if image == "" {
		image = strings.TrimSpace(r.Favicon)
	}

	return Resource{
		URL:   r.URL,
		Title: title,
		Text:  strings.TrimLeft(r.Text, "\r\n"),
		Image: image,
	}, true
}

// Insights is the post-session recap sent by email
type Insights struct {
	Summary string   `json:"summary"`
	Tasks   []string `json:"tasks"`
	Topics  []string `json:"topics"`
}

// EmailRequest is the body of POST /emails
type EmailRequest struct {
	EmailAddress string   `json:"email_address"`
	Insights     Insights `json:"insights"`
}

// WaitlistEntry is stored at waitlist/{digest}
type WaitlistEntry struct {
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}
