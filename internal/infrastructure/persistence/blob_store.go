package persistence

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
)

// DeleteObjects accepts at most this many keys per request.
const maxDeleteKeys = 1000

var _ repository.BlobStore = (*BlobStore)(nil)

type BlobStore struct {
	s3            s3iface.S3API
	s3Uploader    *s3manager.Uploader
	publicBaseURL string
	logger        *zap.Logger
}

// Create a blob store on top of S3 or any S3 compatible storage such as R2.
// The client never retries on its own, retry policy is up to the caller.
func NewBlobStore(sess *session.Session, publicBaseURL string, logger *zap.Logger) *BlobStore {
	svc := s3.New(sess, aws.NewConfig().WithMaxRetries(0))
	return &BlobStore{
		s3:            svc,
		s3Uploader:    s3manager.NewUploaderWithClient(svc),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.Named("BlobStore"),
	}
}

// Upload an entire object to remote storage and return its public URL.
func (s *BlobStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	input := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.s3Uploader.UploadWithContext(ctx, input); err != nil {
		s.logger.Error("Failed to upload object", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		return "", &repository.UploadError{Key: key, Err: err}
	}
	s.logger.Debug("Object uploaded", zap.String("bucket", bucket), zap.String("key", key))
	return s.PublicURL(bucket, key), nil
}

// Delete the objects in batches. Every key is attempted and failures are
// collected into the report instead of being returned.
func (s *BlobStore) DeleteMany(ctx context.Context, bucket string, keys []string) repository.DeleteReport {
	var report repository.DeleteReport
	for start := 0; start < len(keys); start += maxDeleteKeys {
		chunk := keys[start:min(start+maxDeleteKeys, len(keys))]
		objects := make([]*s3.ObjectIdentifier, 0, len(chunk))
		for _, key := range chunk {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := s.s3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			s.logger.Warn("Failed to delete objects", zap.String("bucket", bucket), zap.Int("count", len(chunk)), zap.Error(err))
			for _, key := range chunk {
				report.Fail(key, err)
			}
			continue
		}
		for _, e := range out.Errors {
			report.Fail(aws.StringValue(e.Key), fmt.Errorf("%s: %s", aws.StringValue(e.Code), aws.StringValue(e.Message)))
		}
	}
	return report
}

// List every key under the prefix.
func (s *BlobStore) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}
	return keys, nil
}

// Get the public URL of an object. It is derived from the configured base
// address without a round-trip to the storage.
func (s *BlobStore) PublicURL(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	escaped := strings.Join(segments, "/")
	if s.publicBaseURL == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, escaped)
	}
	return s.publicBaseURL + "/" + escaped
}
