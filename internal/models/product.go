package models

import (
	"time"
)

// UnknownProductName is used when a store page does not expose a readable title.
const UnknownProductName = "Unknown Product"

type Product struct {
	ID            string     `json:"id"`
	Store         Store      `json:"store"`
	URL           string     `json:"url"`
	Sizes         SizeSet    `json:"sizes"`
	Name          string     `json:"name,omitempty"`
	Price         string     `json:"price,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Destination   string     `json:"destination"`
	AddedAt       time.Time  `json:"added_at"`
}

// DisplayName returns the product name or the unknown-product sentinel.
func (p *Product) DisplayName() string {
	if p.Name == "" {
		return UnknownProductName
	}
	return p.Name
}

// Clone returns a deep copy so callers never share the Sizes slice or timestamp.
func (p Product) Clone() Product {
	c := p
	c.Sizes = append(SizeSet(nil), p.Sizes...)
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return c
}

// PollResult is the outcome of one stock check. It is never stored.
type PollResult struct {
	Name           string
	Price          string
	AvailableSizes SizeSet
	ScreenshotPath string
}

// CheckRecord is an audit entry for a single check attempt.
type CheckRecord struct {
	ProductID      string
	Destination    string
	Store          Store
	URL            string
	AvailableSizes SizeSet
	Error          string
	CheckedAt      time.Time
}

func (p *Product) Validate() []string {
	var errors []string

	if p.URL == "" {
		errors = append(errors, "URL is required")
	}

	if p.Destination == "" {
		errors = append(errors, "destination is required")
	}

	if len(p.Sizes) == 0 {
		errors = append(errors, "at least one size is required")
	}

	if !p.Store.Valid() {
		errors = append(errors, "unsupported store")
	}

	return errors
}
