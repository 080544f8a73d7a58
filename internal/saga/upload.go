package saga

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Get the key prefix under which every object of a story is stored.
func StoryPrefix(storyID string) string {
	return "stories/" + storyID + "/"
}

// Build a unique object key for a video of the story. The random part keeps
// retried uploads of the same file from colliding.
func ObjectKey(storyID, filename string) string {
	return fmt.Sprintf("%s%s-%s", StoryPrefix(storyID), uuid.NewString(), sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "video"
	}
	return name
}

type uploadSlot struct {
	key string
	url string
	ok  bool
}

// Upload every video through a bounded pool. Results land in the slot of
// their submission index, so the recorded keys and URLs keep submission order
// whatever order the uploads finish in. After the first failure no new upload
// starts, but the ones already running are awaited before returning.
func (o *Orchestrator) uploadSegments(ctx context.Context, state *State, pairs []Pair) error {
	slots := make([]uploadSlot, len(pairs))
	var failed atomic.Bool

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrentUploads)
	for i := range pairs {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			key := ObjectKey(state.StoryID, pairs[i].File.Filename)
			url, err := o.put(ctx, key, pairs[i].File)
			if err != nil {
				failed.Store(true)
				return err
			}
			slots[i] = uploadSlot{key: key, url: url, ok: true}
			return nil
		})
	}
	err := g.Wait()

	for i, slot := range slots {
		if !slot.ok {
			continue
		}
		state.UploadedKeys = append(state.UploadedKeys, slot.key)
		state.Pending[i].VideoURL = slot.url
	}
	return err
}

func (o *Orchestrator) put(ctx context.Context, key string, file entity.VideoFile) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	url, err := o.blobs.Put(ctx, o.cfg.Bucket, key, file.Body, file.ContentType)
	if err != nil {
		uploadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		o.logger.Warn("Segment upload failed", zap.String("key", key), zap.String("filename", file.Filename), zap.Error(err))
		var uerr *repository.UploadError
		if !errors.As(err, &uerr) {
			err = &repository.UploadError{Key: key, Err: err}
		}
		return "", err
	}
	uploadDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return url, nil
}
