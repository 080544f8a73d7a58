package saga

import (
	"context"
	"time"

	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
)

const (
	stepDeleteObjects = "delete_objects"
	stepListObjects   = "list_objects"
	stepDeleteStory   = "delete_story"
)

// The result of a compensation pass.
type Outcome struct {
	Phase       Phase // PhaseRolledBack or PhaseFailed.
	Failures    []*CompensationFailure
	OrphanKeys  []string
	OrphanStory bool
}

// Compensator undoes the writes recorded in a saga state. Every step is
// attempted regardless of earlier failures, and nothing is retried.
type Compensator struct {
	blobs   repository.BlobStore
	stories repository.StoryRepository
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewCompensator(blobs repository.BlobStore, stories repository.StoryRepository, bucket string, timeout time.Duration, logger *zap.Logger) *Compensator {
	return &Compensator{
		blobs:   blobs,
		stories: stories,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.Named("Compensator"),
	}
}

// Compensate deletes the uploaded objects, sweeps the story prefix for objects
// whose upload result was lost, then deletes the story row. Running it again
// on the same state leads to the same end state.
func (c *Compensator) Compensate(ctx context.Context, storyID string, keys []string) Outcome {
	var out Outcome
	orphans := make(map[string]struct{})

	if len(keys) > 0 {
		report := c.deleteMany(ctx, keys)
		if !report.OK() {
			out.addFailure(c.logger, &CompensationFailure{Step: stepDeleteObjects, StoryID: storyID, Keys: report.FailedKeys(), Err: firstError(report)})
			for _, key := range report.FailedKeys() {
				orphans[key] = struct{}{}
			}
		}
	}

	if storyID != "" {
		if stray, err := c.listKeys(ctx, StoryPrefix(storyID)); err != nil {
			out.addFailure(c.logger, &CompensationFailure{Step: stepListObjects, StoryID: storyID, Err: err})
		} else {
			var remaining []string
			for _, key := range stray {
				if _, known := orphans[key]; !known {
					remaining = append(remaining, key)
				}
			}
			if len(remaining) > 0 {
				c.logger.Info("Deleting stray objects under story prefix", zap.String("storyID", storyID), zap.Strings("keys", remaining))
				report := c.deleteMany(ctx, remaining)
				if !report.OK() {
					out.addFailure(c.logger, &CompensationFailure{Step: stepDeleteObjects, StoryID: storyID, Keys: report.FailedKeys(), Err: firstError(report)})
					for _, key := range report.FailedKeys() {
						orphans[key] = struct{}{}
					}
				}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.stories.DeleteStory(callCtx, storyID)
		cancel()
		if err != nil {
			out.OrphanStory = true
			out.addFailure(c.logger, &CompensationFailure{Step: stepDeleteStory, StoryID: storyID, Err: err})
		}
	}

	for _, key := range keys {
		if _, ok := orphans[key]; ok {
			out.OrphanKeys = append(out.OrphanKeys, key)
			delete(orphans, key)
		}
	}
	for key := range orphans {
		out.OrphanKeys = append(out.OrphanKeys, key)
	}

	if len(out.OrphanKeys) > 0 || out.OrphanStory {
		out.Phase = PhaseFailed
		fatal := &SagaFatal{StoryID: storyID, OrphanKeys: out.OrphanKeys, OrphanStory: out.OrphanStory}
		c.logger.Error("Compensation left orphaned state, manual remediation required",
			zap.String("storyID", storyID),
			zap.Strings("orphanKeys", out.OrphanKeys),
			zap.Bool("orphanStory", out.OrphanStory),
			zap.Error(fatal),
		)
		return out
	}
	out.Phase = PhaseRolledBack
	c.logger.Info("Compensation completed", zap.String("storyID", storyID), zap.Int("deletedObjects", len(keys)))
	return out
}

func (c *Compensator) deleteMany(ctx context.Context, keys []string) repository.DeleteReport {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.blobs.DeleteMany(ctx, c.bucket, keys)
}

func (c *Compensator) listKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.blobs.ListKeys(ctx, c.bucket, prefix)
}

func (o *Outcome) addFailure(logger *zap.Logger, f *CompensationFailure) {
	o.Failures = append(o.Failures, f)
	compensationFailuresTotal.WithLabelValues(f.Step).Inc()
	logger.Warn("Compensation step failed",
		zap.String("step", f.Step),
		zap.String("storyID", f.StoryID),
		zap.Strings("keys", f.Keys),
		zap.Error(f.Err),
	)
}

func firstError(report repository.DeleteReport) error {
	keys := report.FailedKeys()
	if len(keys) == 0 {
		return nil
	}
	return report.Failed[keys[0]]
}
