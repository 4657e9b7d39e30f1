// Package blob stores the binary payloads attached to images, pdfs and notes.
// Records only keep the storage key a Backend hands out.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindImage Kind = "image"
	KindPdf   Kind = "pdf"
	KindNote  Kind = "note"
)

var (
	ErrFileTooLarge   = errors.New("blob file too large")
	ErrInvalidKind    = errors.New("invalid blob kind")
	ErrDisallowedType = errors.New("disallowed blob mime type")
	ErrExecutableFile = errors.New("executable files are not allowed")
	ErrInvalidPath    = errors.New("invalid blob path")
	ErrNotFound       = errors.New("blob not found")
	ErrEmptyFile      = errors.New("blob file is empty")
)

type StoredBlob struct {
	Key          string
	Kind         Kind
	FilePath     string
	MimeType     string
	SizeBytes    int64
	OriginalName string
	CreatedAt    time.Time
}

// Object is what Fetch returns: either Content to stream or a RedirectURL
// the client should follow.
type Object struct {
	Content     io.ReadSeekCloser
	ModTime     time.Time
	RedirectURL string
}

type Backend interface {
	Name() string
	MaxUploadBytes() int64
	Save(ctx context.Context, kind Kind, originalName string, src io.Reader) (*StoredBlob, error)
	Duplicate(ctx context.Context, key string) (*StoredBlob, error)
	Delete(ctx context.Context, key string) error
	Fetch(ctx context.Context, key string) (*Object, error)
}

// receive sniffs, validates and copies src into dst, enforcing maxBytes.
func receive(dst io.Writer, kind Kind, src io.Reader, maxBytes int64) (string, int64, error) {
	if !isValidKind(kind) {
		return "", 0, ErrInvalidKind
	}

	sniff := make([]byte, 512)
	sniffN, sniffErr := io.ReadFull(src, sniff)
	if sniffErr != nil && sniffErr != io.EOF && sniffErr != io.ErrUnexpectedEOF {
		return "", 0, fmt.Errorf("reading blob data: %w", sniffErr)
	}
	sniff = sniff[:sniffN]
	if len(sniff) == 0 {
		return "", 0, ErrEmptyFile
	}

	if isExecutableSignature(sniff) {
		return "", 0, ErrExecutableFile
	}

	mimeType := detectMimeType(sniff)
	if !isAllowedMimeType(kind, mimeType) {
		return "", 0, ErrDisallowedType
	}

	fullReader := io.MultiReader(bytes.NewReader(sniff), src)
	written, err := io.Copy(dst, io.LimitReader(fullReader, maxBytes+1))
	if err != nil {
		return "", 0, fmt.Errorf("writing blob file: %w", err)
	}
	if written > maxBytes {
		return "", 0, ErrFileTooLarge
	}

	return mimeType, written, nil
}

func sanitizeOriginalName(name string) string {
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload.bin"
	}
	if len(name) > 255 {
		return name[:255]
	}
	return name
}

func detectMimeType(sniff []byte) string {
	if len(sniff) == 0 {
		return "application/octet-stream"
	}

	return trimMimeParams(http.DetectContentType(sniff))
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 {
		if bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
			return true // ELF
		}

		machoMagics := [][]byte{
			{0xfe, 0xed, 0xfa, 0xce},
			{0xce, 0xfa, 0xed, 0xfe},
			{0xfe, 0xed, 0xfa, 0xcf},
			{0xcf, 0xfa, 0xed, 0xfe},
			{0xca, 0xfe, 0xba, 0xbe},
			{0xbe, 0xba, 0xfe, 0xca},
			{0xca, 0xfe, 0xba, 0xbf},
			{0xbf, 0xba, 0xfe, 0xca},
		}
		for _, magic := range machoMagics {
			if bytes.Equal(sniff[:4], magic) {
				return true
			}
		}
	}

	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func isValidKind(kind Kind) bool {
	switch kind {
	case KindImage, KindPdf, KindNote:
		return true
	default:
		return false
	}
}

var activeContentTypes = map[string]struct{}{
	"image/svg+xml":               {},
	"text/html":                   {},
	"application/xhtml+xml":       {},
	"application/javascript":      {},
	"text/javascript":             {},
	"application/x-javascript":    {},
	"text/ecmascript":             {},
	"application/ecmascript":      {},
	"application/x-httpd-php":     {},
	"application/x-sh":            {},
	"application/x-msdownload":    {},
	"application/x-msdos-program": {},
}

func isAllowedMimeType(kind Kind, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return false
	}
	if _, blocked := activeContentTypes[mimeType]; blocked {
		return false
	}

	switch kind {
	case KindImage:
		return strings.HasPrefix(mimeType, "image/")
	case KindPdf:
		return mimeType == "application/pdf"
	case KindNote:
		return true
	default:
		return false
	}
}

// kindFromKey reads the kind segment every backend puts first in its keys.
func kindFromKey(key string) (Kind, error) {
	first, _, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	kind := Kind(first)
	if !isValidKind(kind) {
		return "", ErrInvalidPath
	}
	return kind, nil
}
