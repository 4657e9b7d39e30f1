package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"drive/internal/mediaurl"
)

const BackendS3 = "s3"

// S3API is the subset of *s3.Client the backend calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Options struct {
	Bucket         string
	Prefix         string
	PublicBaseURL  string
	PresignTTL     time.Duration
	MaxUploadBytes int64
	// TempDir is where uploads are spooled before PutObject; empty means os.TempDir.
	TempDir string
}

type S3Backend struct {
	client    S3API
	presigner S3Presigner
	opts      S3Options
	now       func() time.Time
}

func NewS3Backend(client S3API, presigner S3Presigner, opts S3Options) (*S3Backend, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if opts.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	return &S3Backend{
		client:    client,
		presigner: presigner,
		opts:      opts,
		now:       time.Now,
	}, nil
}

func (b *S3Backend) Name() string {
	return BackendS3
}

func (b *S3Backend) MaxUploadBytes() int64 {
	return b.opts.MaxUploadBytes
}

// Save spools the upload to a temp file first: validation needs the leading
// bytes and PutObject needs a seekable body with a known length.
func (b *S3Backend) Save(ctx context.Context, kind Kind, originalName string, src io.Reader) (*StoredBlob, error) {
	if !isValidKind(kind) {
		return nil, ErrInvalidKind
	}

	spool, err := os.CreateTemp(b.opts.TempDir, "drive-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating upload spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	mimeType, written, err := receive(spool, kind, src, b.opts.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload spool file: %w", err)
	}

	key := b.newKey(kind)
	name := sanitizeOriginalName(originalName)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(b.opts.Bucket),
		Key:                aws.String(key),
		Body:               spool,
		ContentLength:      aws.Int64(written),
		ContentType:        aws.String(mimeType),
		ContentDisposition: aws.String(fmt.Sprintf("inline; filename=%q", name)),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading blob: %w", err)
	}

	return &StoredBlob{
		Key:          key,
		Kind:         kind,
		FilePath:     b.objectURL(key),
		MimeType:     mimeType,
		SizeBytes:    written,
		OriginalName: name,
		CreatedAt:    b.now().UTC(),
	}, nil
}

func (b *S3Backend) Duplicate(ctx context.Context, key string) (*StoredBlob, error) {
	kind, err := kindFromKey(b.stripPrefix(key))
	if err != nil {
		return nil, err
	}

	head, err := b.head(ctx, key)
	if err != nil {
		return nil, err
	}

	newKey := b.newKey(kind)
	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.opts.Bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(path.Join(b.opts.Bucket, key)),
	})
	if err != nil {
		return nil, fmt.Errorf("copying blob: %w", err)
	}

	return &StoredBlob{
		Key:       newKey,
		Kind:      kind,
		FilePath:  b.objectURL(newKey),
		MimeType:  aws.ToString(head.ContentType),
		SizeBytes: aws.ToInt64(head.ContentLength),
		CreatedAt: b.now().UTC(),
	}, nil
}

// Fetch never streams through the server: it answers with the public URL when
// one is configured and with a presigned GET otherwise.
func (b *S3Backend) Fetch(ctx context.Context, key string) (*Object, error) {
	head, err := b.head(ctx, key)
	if err != nil {
		return nil, err
	}

	obj := &Object{ModTime: aws.ToTime(head.LastModified)}
	if b.opts.PublicBaseURL != "" {
		obj.RedirectURL = b.objectURL(key)
		return obj, nil
	}

	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.opts.PresignTTL))
	if err != nil {
		return nil, fmt.Errorf("presigning blob url: %w", err)
	}
	obj.RedirectURL = req.URL

	return obj, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (b *S3Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading blob metadata: %w", err)
	}
	return out, nil
}

// newKey lays objects out as [prefix/]kind/YYYY/MM/DD/uuid.
func (b *S3Backend) newKey(kind Kind) string {
	key := path.Join(string(kind), b.now().UTC().Format("2006/01/02"), uuid.NewString())
	if b.opts.Prefix != "" {
		key = b.opts.Prefix + "/" + key
	}
	return key
}

func (b *S3Backend) stripPrefix(key string) string {
	if b.opts.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.opts.Prefix+"/")
}

func (b *S3Backend) objectURL(key string) string {
	if b.opts.PublicBaseURL != "" {
		return mediaurl.Object(b.opts.PublicBaseURL, key)
	}
	return "s3://" + b.opts.Bucket + "/" + key
}
