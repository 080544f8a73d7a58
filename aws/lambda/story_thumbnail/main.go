package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/mediaconvert"
	"github.com/aws/aws-sdk-go/service/mediaconvert/mediaconvertiface"
	"github.com/kelseyhightower/envconfig"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"github.com/molpadia/molpastory/internal/infrastructure/persistence"
	"github.com/molpadia/molpastory/internal/logger"
	"go.uber.org/zap"
)

//go:embed job.json
var jobSettings []byte

const thumbnailDir = "thumbnails"

type config struct {
	DatabaseURL     string `envconfig:"DATABASE_URL" required:"true"`
	PublicBaseURL   string `envconfig:"OBJECT_STORAGE_PUBLIC_BASE_URL"`
	MediaConvertURL string `envconfig:"AWS_VOD_MEDIACONVERT_URL" required:"true"`
	RoleARN         string `envconfig:"AWS_VOD_ROLE_ARN" required:"true"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
}

type objectKind int

const (
	otherObject objectKind = iota
	videoObject
	thumbnailObject
)

// Classify an object key of the story namespace and extract its story ID.
func parseKey(key string) (string, objectKind) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 || parts[0] != "stories" || parts[1] == "" {
		return "", otherObject
	}
	switch {
	case len(parts) == 3 && parts[2] != "":
		return parts[1], videoObject
	case len(parts) == 4 && parts[2] == thumbnailDir && parts[3] != "":
		return parts[1], thumbnailObject
	}
	return "", otherObject
}

// Get URI path for a file stored in S3 bucket.
func s3Path(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Load a fresh copy of the frame capture job settings.
func loadJobSettings() (*mediaconvert.JobSettings, error) {
	var js *mediaconvert.JobSettings
	if err := json.Unmarshal(jobSettings, &js); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job settings: %w", err)
	}
	return js, nil
}

type objectStore interface {
	repository.BlobStore
	PublicURL(bucket, key string) string
}

type thumbnailHandler struct {
	stories repository.StoryRepository
	blobs   objectStore
	jobs    mediaconvertiface.MediaConvertAPI
	roleARN string
	logger  *zap.Logger
}

// Handle the object created events of the story bucket. Videos get a frame
// capture job, captured frames become the story thumbnail.
func (h *thumbnailHandler) handle(ctx context.Context, event events.S3Event) error {
	var errs []error
	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key := record.S3.Object.URLDecodedKey
		if key == "" {
			key = record.S3.Object.Key
		}
		storyID, kind := parseKey(key)
		var err error
		switch kind {
		case videoObject:
			err = h.captureFrame(ctx, bucket, key, storyID)
		case thumbnailObject:
			err = h.setThumbnail(ctx, bucket, key, storyID)
		default:
			h.logger.Debug("Ignoring object", zap.String("key", key))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *thumbnailHandler) captureFrame(ctx context.Context, bucket, key, storyID string) error {
	js, err := loadJobSettings()
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(path.Base(key), path.Ext(key))
	js.Inputs[0].FileInput = aws.String(s3Path(bucket, key))
	js.OutputGroups[0].OutputGroupSettings.FileGroupSettings.Destination = aws.String(s3Path(bucket, fmt.Sprintf("stories/%s/%s/%s", storyID, thumbnailDir, name)))

	out, err := h.jobs.CreateJobWithContext(ctx, &mediaconvert.CreateJobInput{
		Role:     aws.String(h.roleARN),
		Settings: js,
		UserMetadata: map[string]*string{
			"storyId": aws.String(storyID),
		},
	})
	if err != nil {
		h.logger.Error("Failed to launch frame capture job", zap.String("key", key), zap.Error(err))
		return err
	}
	h.logger.Info("Frame capture job launched", zap.String("storyID", storyID), zap.String("jobID", aws.StringValue(out.Job.Id)))
	return nil
}

// Set the captured frame as the story thumbnail. A frame of a story that was
// deleted or rolled back in the meantime is removed.
func (h *thumbnailHandler) setThumbnail(ctx context.Context, bucket, key, storyID string) error {
	set, err := h.stories.SetThumbnail(ctx, storyID, h.blobs.PublicURL(bucket, key))
	if err != nil {
		return err
	}
	if set {
		h.logger.Info("Story thumbnail set", zap.String("storyID", storyID), zap.String("key", key))
		return nil
	}
	if _, err := h.stories.GetStory(ctx, storyID); !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	h.logger.Info("Deleting thumbnail of missing story", zap.String("storyID", storyID), zap.String("key", key))
	if report := h.blobs.DeleteMany(ctx, bucket, []string{key}); !report.OK() {
		return report.Failed[key]
	}
	return nil
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	db, err := persistence.OpenDB(cfg.DatabaseURL, 2)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	sess := session.Must(session.NewSession())
	h := &thumbnailHandler{
		stories: persistence.NewStoryRepository(db, log),
		blobs:   persistence.NewBlobStore(sess, cfg.PublicBaseURL, log),
		jobs: mediaconvert.New(session.Must(session.NewSession(&aws.Config{
			Endpoint: aws.String(cfg.MediaConvertURL),
		}))),
		roleARN: cfg.RoleARN,
		logger:  log.Named("StoryThumbnail"),
	}
	lambda.Start(h.handle)
}
