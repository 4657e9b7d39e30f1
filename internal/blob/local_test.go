package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
)

func newTestLocalBackend(t *testing.T, maxBytes int64) *LocalBackend {
	t.Helper()

	backend, err := NewLocalBackend(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	return backend
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

func TestSaveRejectsExecutableSignature(t *testing.T) {
	backend := newTestLocalBackend(t, 1024*1024)

	_, err := backend.Save(context.Background(), KindNote, "payload.png", bytes.NewReader([]byte("MZ\x90\x00\x03\x00")))
	if !errors.Is(err, ErrExecutableFile) {
		t.Fatalf("Save() error = %v, want ErrExecutableFile", err)
	}
}

func TestSaveAllowsUnknownBinaryForNote(t *testing.T) {
	backend := newTestLocalBackend(t, 1024*1024)

	stored, err := backend.Save(context.Background(), KindNote, "blob.bin", bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03, 0x04}))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if stored.MimeType != "application/octet-stream" {
		t.Fatalf("stored.MimeType = %q, want application/octet-stream", stored.MimeType)
	}
	if !strings.HasPrefix(stored.Key, "note/") {
		t.Fatalf("stored.Key = %q, want note/ prefix", stored.Key)
	}
}

func TestSaveEnforcesKindTypes(t *testing.T) {
	backend := newTestLocalBackend(t, 1024*1024)
	pngData := encodeTestPNG(t)

	tests := []struct {
		name    string
		kind    Kind
		data    []byte
		wantErr error
	}{
		{name: "image accepts png", kind: KindImage, data: pngData},
		{name: "image rejects bytes with png name", kind: KindImage, data: []byte{0x00, 0x01, 0x02, 0x03}, wantErr: ErrDisallowedType},
		{name: "image rejects svg", kind: KindImage, data: []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), wantErr: ErrDisallowedType},
		{name: "pdf accepts pdf", kind: KindPdf, data: testPDF},
		{name: "pdf rejects png", kind: KindPdf, data: pngData, wantErr: ErrDisallowedType},
		{name: "note rejects html", kind: KindNote, data: []byte("<html><body>hi</body></html>"), wantErr: ErrDisallowedType},
		{name: "note accepts text", kind: KindNote, data: []byte("plain notes")},
		{name: "empty file", kind: KindNote, data: nil, wantErr: ErrEmptyFile},
		{name: "unknown kind", kind: Kind("avatar"), data: pngData, wantErr: ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := backend.Save(context.Background(), tt.kind, "upload.png", bytes.NewReader(tt.data))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Save() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRejectsOversizedFile(t *testing.T) {
	backend := newTestLocalBackend(t, 16)

	_, err := backend.Save(context.Background(), KindNote, "big.txt", strings.NewReader(strings.Repeat("a", 17)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Save() error = %v, want ErrFileTooLarge", err)
	}
}

func TestDuplicateCreatesIndependentCopy(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t, 1024*1024)

	stored, err := backend.Save(ctx, KindPdf, "report.pdf", bytes.NewReader(testPDF))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	dup, err := backend.Duplicate(ctx, stored.Key)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}
	if dup.Key == stored.Key {
		t.Fatal("Duplicate() reused the source key")
	}
	if dup.Kind != KindPdf || dup.SizeBytes != int64(len(testPDF)) {
		t.Fatalf("Duplicate() = %+v", dup)
	}

	if err := backend.Delete(ctx, stored.Key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	obj, err := backend.Fetch(ctx, dup.Key)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer obj.Content.Close()

	data, err := io.ReadAll(obj.Content)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(data, testPDF) {
		t.Fatal("duplicated content differs from the source")
	}

	if _, err := backend.Fetch(ctx, stored.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fetch() after delete error = %v, want ErrNotFound", err)
	}
}

func TestDuplicateMissingSource(t *testing.T) {
	backend := newTestLocalBackend(t, 1024)

	if _, err := backend.Duplicate(context.Background(), "pdf/ab/blb_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Duplicate() error = %v, want ErrNotFound", err)
	}
}

func TestLocalPathsStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t, 1024)

	for _, key := range []string{"../etc/passwd", "/etc/passwd", "."} {
		if _, err := backend.Fetch(ctx, key); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Fetch(%q) error = %v, want ErrInvalidPath", key, err)
		}
		if err := backend.Delete(ctx, key); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Delete(%q) error = %v, want ErrInvalidPath", key, err)
		}
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	backend := newTestLocalBackend(t, 1024)

	if err := backend.Delete(context.Background(), "note/ab/blb_gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}
