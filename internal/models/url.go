package models

import "time"

// URL represents a shortened URL and its associated metadata.
type URL struct {
	// ID is the unique identifier for the shortened URL record.
	ID int64
	// ShortCode is the short code or slug associated with the original URL.
	ShortCode string
	// OriginalURL is the original, full-length URL that the short code points to.
	OriginalURL string
	// OwnerID references the account that created the URL; empty for anonymous creations.
	OwnerID string
	// ClickCount is the authoritative number of times the shortened URL has been resolved.
	ClickCount int64
	// CreatedAt is the timestamp indicating when the shortened URL was created.
	// It is the sole ordering key for owner listings.
	CreatedAt time.Time
}

// URLPage is a single page of an owner's URLs, ordered newest first.
type URLPage struct {
	// URLs holds at most the requested number of records.
	URLs []URL
	// NextCursor is the created_at timestamp of the last returned record in
	// RFC 3339 format, set only when HasMore is true.
	NextCursor string
	// HasMore reports whether older records exist beyond this page.
	HasMore bool
}
