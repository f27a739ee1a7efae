package s3store

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"media-relay/internal/domain"
)

// S3 rejects presigned URLs valid for longer than seven days.
const maxPresignExpiry = 7 * 24 * time.Hour

// objectAPI is the subset of *s3.Client used for uploads.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presignAPI is the subset of *s3.PresignClient used for download links.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// clientFactory builds S3 clients bound to one set of temporary credentials.
type clientFactory func(creds domain.Credentials) (objectAPI, presignAPI)

// Store uploads artifacts to a bucket and signs GET links for them. Each call
// uses the temporary credentials it is given, never the process's own.
type Store struct {
	bucket  string
	clients clientFactory
}

// New returns a Store for bucket using the region and endpoint settings of cfg.
func New(cfg aws.Config, bucket string) (*Store, error) {
	return newStore(bucket, func(creds domain.Credentials) (objectAPI, presignAPI) {
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
		})
		return client, s3.NewPresignClient(client)
	})
}

func newStore(bucket string, clients clientFactory) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3store: bucket name must not be empty")
	}
	if clients == nil {
		return nil, errors.New("s3store: client factory must not be nil")
	}
	return &Store{bucket: bucket, clients: clients}, nil
}

// Upload stores file under key. The download name is the last element of key.
func (s *Store) Upload(ctx context.Context, creds domain.Credentials, key, file string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("s3store: key is required")
	}
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("s3store: open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3store: stat %s: %w", file, err)
	}

	objects, _ := s.clients(creds)
	_, err = objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentLength:      aws.Int64(info.Size()),
		ContentType:        aws.String(ContentType(key)),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)})),
	})
	if err != nil {
		return fmt.Errorf("s3store: put object %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a GET link for key that stops working after expiry.
func (s *Store) PresignGet(ctx context.Context, creds domain.Credentials, key string, expiry time.Duration) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("s3store: key is required")
	}
	if expiry <= 0 || expiry > maxPresignExpiry {
		return "", fmt.Errorf("s3store: link expiry %s outside (0, %s]", expiry, maxPresignExpiry)
	}

	_, presigner := s.clients(creds)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3store: presign %s: %w", key, err)
	}
	if req == nil || req.URL == "" {
		return "", errors.New("s3store: presign returned empty url")
	}
	return req.URL, nil
}

// ContentType picks the object content type from the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
