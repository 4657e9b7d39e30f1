package models

import "time"

// OrphanedBlob is a blob whose last referencing record is gone and which is
// waiting for backend deletion.
type OrphanedBlob struct {
	ID         string
	Backend    string
	StorageKey string
	Attempts   int
	LastError  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
