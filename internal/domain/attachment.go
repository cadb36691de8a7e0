package domain

import "time"

// Attachment stores metadata for a file uploaded to a ticket. URL is the
// public location persisted at upload time; the storage key is derived from it.
type Attachment struct {
	ID         string
	TicketID   string
	FileName   string
	URL        string
	SizeBytes  int64
	UploadedBy string
	CreatedAt  time.Time
}
