// Package models defines core data structures for items, queries, and search results.
package models

import "time"

// Item is the metadata mirror of a catalog record, kept locally so that
// attribute extraction and keyword overlap can run at ranking time without
// a round trip to the owning catalog service.
type Item struct {
	ExternalID  int64     `json:"external_id" db:"external_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Brand       string    `json:"brand,omitempty" db:"brand"`
	Caption     string    `json:"caption,omitempty" db:"caption"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Text returns the combined name+description text used for attribute
// extraction and keyword matching. The caption is included when present so
// image-derived attributes participate in gating.
func (it *Item) Text() string {
	text := it.Name
	if it.Description != "" {
		if text != "" {
			text += " "
		}
		text += it.Description
	}
	if it.Caption != "" {
		if text != "" {
			text += " "
		}
		text += it.Caption
	}
	return text
}

// RegisterInput is the input for registering an item.
type RegisterInput struct {
	ExternalID  int64  `json:"external_id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Brand       string `json:"brand,omitempty"`
	// Image is the raw image bytes, when uploaded inline.
	Image []byte `json:"image,omitempty"`
	// ImageURL is an externally hosted image, fetched with bounded retries.
	ImageURL string `json:"image_url,omitempty"`
}

// RegisterResult is the per-item outcome of a registration.
type RegisterResult struct {
	ExternalID int64  `json:"external_id"`
	Ordinal    int    `json:"ordinal"`
	Caption    string `json:"caption,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchRegisterResponse summarizes a batch registration. Failure is always
// per-item; the batch is never atomic.
type BatchRegisterResponse struct {
	Results   []RegisterResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}
