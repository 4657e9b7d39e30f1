package models

import "time"

type Kind string

const (
	KindFolder Kind = "folder"
	KindImage  Kind = "image"
	KindPdf    Kind = "pdf"
	KindNote   Kind = "note"
)

// FileRef describes the blob attached to a resource. FilePath is the
// retrieval handle (relative path or URL) and StorageKey the backend key used
// for duplication and deletion.
type FileRef struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	FilePath    string `json:"filePath"`
	StorageKey  string `json:"storageKey,omitempty"`
}

type Resource struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Kind            Kind      `json:"kind"`
	ParentID        *string   `json:"parentId"`
	Name            string    `json:"name"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	DescriptionHTML string    `json:"descriptionHtml,omitempty"`
	Favorite        bool      `json:"favorite"`
	File            *FileRef  `json:"file,omitempty"`
	URL             string    `json:"url,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (r *Resource) HasFile() bool {
	return r.File != nil && r.File.StorageKey != ""
}

func (r *Resource) FileSize() int64 {
	if r.File == nil {
		return 0
	}
	return r.File.Size
}
