// Package blob stores proof-of-payment files out-of-band and hands back
// URLs for the payment rows to reference.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const proofPrefix = "proofs/"

// Uploader stores a blob under a key and returns an accessible URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ProofKey builds the storage key for a proof-of-payment file: per-user,
// per-loan, timestamp-qualified so repeated uploads never collide.
func ProofKey(userID, loanID uuid.UUID, filename string) string {
	ext := strings.TrimSpace(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("%s%s/%s/%d%s", proofPrefix, userID, loanID, time.Now().UnixNano(), ext)
}

// DetectContentType sniffs the content type from the blob's leading
// bytes, falling back to application/octet-stream.
func DetectContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	if len(data) > 512 {
		return http.DetectContentType(data[:512])
	}
	return http.DetectContentType(data)
}

// S3Uploader stores blobs in an S3 bucket and returns public URLs built
// from a configured base URL.
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Uploader loads the default AWS config for the given region and
// returns an uploader targeting bucket. baseURL is the public prefix the
// returned URLs are built from; it is normalized to end with "/".
func NewS3Uploader(ctx context.Context, bucket, region, baseURL string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Uploader{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
	}, nil
}

// Upload puts the blob in the bucket and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = DetectContentType(body)
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 (bucket %s, key %s): %w", u.bucket, key, err)
	}
	return u.baseURL + key, nil
}
