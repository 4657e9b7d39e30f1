package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	deleteErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(in.ContentLength) {
		return nil, errors.New("content length mismatch")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, contentType: aws.ToString(in.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, srcKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	obj, ok := f.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: append([]byte(nil), obj.data...), contentType: obj.contentType}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		LastModified:  aws.Time(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(in.Bucket) + ".s3.local/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig",
		Method: "GET",
	}, nil
}

func newTestS3Backend(t *testing.T, opts S3Options) (*S3Backend, *fakeS3, *fakePresigner) {
	t.Helper()

	client := newFakeS3()
	presigner := &fakePresigner{}
	if opts.Bucket == "" {
		opts.Bucket = "drive"
	}
	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = 1024 * 1024
	}
	opts.TempDir = t.TempDir()

	backend, err := NewS3Backend(client, presigner, opts)
	if err != nil {
		t.Fatalf("NewS3Backend() error = %v", err)
	}
	backend.now = func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }
	return backend, client, presigner
}

func TestS3SaveUploadsUnderDatedKey(t *testing.T) {
	backend, client, _ := newTestS3Backend(t, S3Options{Prefix: "/uploads/"})

	stored, err := backend.Save(context.Background(), KindPdf, "report.pdf", bytes.NewReader(testPDF))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if !strings.HasPrefix(stored.Key, "uploads/pdf/2024/03/05/") {
		t.Fatalf("stored.Key = %q, want uploads/pdf/2024/03/05/ prefix", stored.Key)
	}
	if stored.FilePath != "s3://drive/"+stored.Key {
		t.Fatalf("stored.FilePath = %q", stored.FilePath)
	}

	obj, ok := client.objects[stored.Key]
	if !ok {
		t.Fatal("object was not uploaded")
	}
	if !bytes.Equal(obj.data, testPDF) || obj.contentType != "application/pdf" {
		t.Fatalf("uploaded object = %q (%s)", obj.data, obj.contentType)
	}
}

func TestS3SaveValidatesBeforeUpload(t *testing.T) {
	backend, client, _ := newTestS3Backend(t, S3Options{})

	_, err := backend.Save(context.Background(), KindImage, "fake.png", bytes.NewReader(testPDF))
	if !errors.Is(err, ErrDisallowedType) {
		t.Fatalf("Save() error = %v, want ErrDisallowedType", err)
	}
	if len(client.objects) != 0 {
		t.Fatalf("rejected upload reached the bucket: %d objects", len(client.objects))
	}
}

func TestS3DuplicateAndDelete(t *testing.T) {
	ctx := context.Background()
	backend, client, _ := newTestS3Backend(t, S3Options{Prefix: "uploads"})

	stored, err := backend.Save(ctx, KindNote, "todo.txt", strings.NewReader("buy milk"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	dup, err := backend.Duplicate(ctx, stored.Key)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}
	if dup.Key == stored.Key || dup.Kind != KindNote || dup.SizeBytes != int64(len("buy milk")) {
		t.Fatalf("Duplicate() = %+v", dup)
	}

	if err := backend.Delete(ctx, stored.Key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := client.objects[dup.Key]; !ok {
		t.Fatal("deleting the source removed the duplicate")
	}

	if _, err := backend.Duplicate(ctx, stored.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Duplicate() of deleted key error = %v, want ErrNotFound", err)
	}
}

func TestS3FetchRedirects(t *testing.T) {
	ctx := context.Background()

	t.Run("presigned", func(t *testing.T) {
		backend, _, presigner := newTestS3Backend(t, S3Options{PresignTTL: 5 * time.Minute})
		stored, err := backend.Save(ctx, KindNote, "a.txt", strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		obj, err := backend.Fetch(ctx, stored.Key)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if obj.Content != nil {
			t.Fatal("Fetch() returned content for a remote backend")
		}
		if !strings.Contains(obj.RedirectURL, "X-Amz-Signature") {
			t.Fatalf("RedirectURL = %q, want presigned URL", obj.RedirectURL)
		}
		if presigner.expires != 5*time.Minute {
			t.Fatalf("presign expiry = %v, want 5m", presigner.expires)
		}
	})

	t.Run("public base url", func(t *testing.T) {
		backend, _, _ := newTestS3Backend(t, S3Options{PublicBaseURL: "https://cdn.example.com"})
		stored, err := backend.Save(ctx, KindNote, "a.txt", strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		obj, err := backend.Fetch(ctx, stored.Key)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if obj.RedirectURL != "https://cdn.example.com/"+stored.Key {
			t.Fatalf("RedirectURL = %q", obj.RedirectURL)
		}
	})

	t.Run("missing", func(t *testing.T) {
		backend, _, _ := newTestS3Backend(t, S3Options{})
		if _, err := backend.Fetch(ctx, "note/2024/03/05/gone"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Fetch() error = %v, want ErrNotFound", err)
		}
	})
}

func TestNewS3BackendRequiresBucket(t *testing.T) {
	if _, err := NewS3Backend(newFakeS3(), &fakePresigner{}, S3Options{MaxUploadBytes: 1}); err == nil {
		t.Fatal("NewS3Backend() without bucket succeeded")
	}
}
