package resource

import (
	"drive/internal/blob"
	"drive/internal/models"
)

// Descriptor is everything that differs between the four resource kinds.
// The service and the HTTP handler are written once against it.
type Descriptor struct {
	Kind       models.Kind
	Label      string
	Collection string
	IDPrefix   string
	// BlobKind is empty for kinds that never carry a file.
	BlobKind        blob.Kind
	FileRequired    bool
	CopySuffix      string
	DuplicateSuffix string
}

func (d Descriptor) HasFiles() bool {
	return d.BlobKind != ""
}

var (
	Folders = Descriptor{
		Kind:            models.KindFolder,
		Label:           "Folder",
		Collection:      "folders",
		IDPrefix:        "fld",
		CopySuffix:      " - Copy",
		DuplicateSuffix: " - Duplicate",
	}
	Images = Descriptor{
		Kind:            models.KindImage,
		Label:           "Image",
		Collection:      "images",
		IDPrefix:        "img",
		BlobKind:        blob.KindImage,
		FileRequired:    true,
		CopySuffix:      " - Copy",
		DuplicateSuffix: " - Copy",
	}
	Pdfs = Descriptor{
		Kind:            models.KindPdf,
		Label:           "PDF",
		Collection:      "pdfs",
		IDPrefix:        "pdf",
		BlobKind:        blob.KindPdf,
		FileRequired:    true,
		CopySuffix:      " - Copy",
		DuplicateSuffix: " - duplicate",
	}
	Notes = Descriptor{
		Kind:            models.KindNote,
		Label:           "Note",
		Collection:      "notes",
		IDPrefix:        "nte",
		BlobKind:        blob.KindNote,
		CopySuffix:      " - Copy",
		DuplicateSuffix: " - Copy",
	}
)

// All lists the descriptors in route registration order.
func All() []Descriptor {
	return []Descriptor{Folders, Images, Pdfs, Notes}
}
