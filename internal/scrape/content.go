// Package scrape fetches and extracts raw product content from the
// storefront. It is a collaborator of the pipeline: it classifies its own
// failures as transient, permanent or authentication-class and leaves the
// retry policy to the caller.
package scrape

import "time"

// Review is one extracted customer review.
type Review struct {
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Rating   float64 `json:"rating"`
	Author   string  `json:"author,omitempty"`
	Date     string  `json:"date,omitempty"`
	Verified bool    `json:"verified"`
}

// RawContent is everything extracted for one item.
type RawContent struct {
	ItemID        string    `json:"item_id"`
	Title         string    `json:"title"`
	RatingAverage float64   `json:"rating_average"`
	TotalReviews  int       `json:"total_reviews"`
	Price         string    `json:"price,omitempty"`
	Reviews       []Review  `json:"reviews"`
	Authenticated bool      `json:"authenticated"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// HasCore reports whether the essential product fields were extracted.
// Reviews are best-effort; a page without core data counts as a failed
// extraction.
func (c *RawContent) HasCore() bool {
	return c.Title != "" && c.RatingAverage > 0
}

// Page is the navigation result handed to extraction.
type Page struct {
	URL  string
	Body string
}
