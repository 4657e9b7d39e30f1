package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drive/internal/db"
)

const BackendLocal = "local"

type LocalBackend struct {
	rootDir        string
	maxUploadBytes int64
}

func NewLocalBackend(rootDir string, maxUploadBytes int64) (*LocalBackend, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root directory: %w", err)
	}

	return &LocalBackend{
		rootDir:        rootDir,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

func (s *LocalBackend) Name() string {
	return BackendLocal
}

func (s *LocalBackend) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

func (s *LocalBackend) Save(_ context.Context, kind Kind, originalName string, src io.Reader) (*StoredBlob, error) {
	if !isValidKind(kind) {
		return nil, ErrInvalidKind
	}

	key, err := newLocalKey(kind)
	if err != nil {
		return nil, err
	}

	var mimeType string
	written, err := s.write(key, func(dst io.Writer) (int64, error) {
		var n int64
		var recvErr error
		mimeType, n, recvErr = receive(dst, kind, src, s.maxUploadBytes)
		return n, recvErr
	})
	if err != nil {
		return nil, err
	}

	return &StoredBlob{
		Key:          key,
		Kind:         kind,
		FilePath:     key,
		MimeType:     mimeType,
		SizeBytes:    written,
		OriginalName: sanitizeOriginalName(originalName),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Duplicate copies the blob under a fresh key of the same kind.
func (s *LocalBackend) Duplicate(_ context.Context, key string) (*StoredBlob, error) {
	kind, err := kindFromKey(key)
	if err != nil {
		return nil, err
	}

	src, err := s.open(key)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	newKey, err := newLocalKey(kind)
	if err != nil {
		return nil, err
	}

	written, err := s.write(newKey, func(dst io.Writer) (int64, error) {
		return io.Copy(dst, src)
	})
	if err != nil {
		return nil, err
	}

	return &StoredBlob{
		Key:       newKey,
		Kind:      kind,
		FilePath:  newKey,
		SizeBytes: written,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *LocalBackend) Fetch(_ context.Context, key string) (*Object, error) {
	f, err := s.open(key)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading blob file info: %w", err)
	}

	return &Object{Content: f, ModTime: info.ModTime()}, nil
}

func (s *LocalBackend) Delete(_ context.Context, key string) error {
	absPath, err := s.resolveStoragePath(key)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting blob file: %w", err)
	}

	return nil
}

func (s *LocalBackend) open(key string) (*os.File, error) {
	absPath, err := s.resolveStoragePath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob file: %w", err)
	}
	return f, nil
}

// write streams into a temp file next to the destination and renames it into
// place, so readers never see a partial blob.
func (s *LocalBackend) write(key string, fill func(io.Writer) (int64, error)) (int64, error) {
	absPath, err := s.resolveStoragePath(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating blob directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), filepath.Base(absPath)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temporary blob file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	written, err := fill(tmpFile)
	if err != nil {
		return 0, err
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("closing temporary blob file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return 0, fmt.Errorf("finalizing blob file: %w", err)
	}

	return written, nil
}

func (s *LocalBackend) resolveStoragePath(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}

	return filepath.Join(s.rootDir, clean), nil
}

func newLocalKey(kind Kind) (string, error) {
	blobID, err := db.GenerateID("blb")
	if err != nil {
		return "", fmt.Errorf("generating blob id: %w", err)
	}
	return filepath.ToSlash(filepath.Join(string(kind), blobPathPrefix(blobID), blobID)), nil
}

func blobPathPrefix(blobID string) string {
	randomPart := strings.TrimPrefix(blobID, "blb_")
	if len(randomPart) < 2 {
		return "xx"
	}
	return randomPart[:2]
}
