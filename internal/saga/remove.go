package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Remove deletes a committed story on behalf of its owner: every object under
// the story prefix first, then the rows. The rows are kept when an object
// could not be deleted so the removal can be retried without losing track of
// the objects.
func (o *Orchestrator) Remove(ctx context.Context, storyID string) error {
	ctx = context.WithoutCancel(ctx)
	log := o.logger.With(zap.String("storyID", storyID))

	keys, err := o.compensator.listKeys(ctx, StoryPrefix(storyID))
	if err != nil {
		log.Error("Failed to list story objects", zap.Error(err))
		return err
	}
	if len(keys) > 0 {
		report := o.compensator.deleteMany(ctx, keys)
		if !report.OK() {
			log.Error("Failed to delete story objects", zap.Strings("keys", report.FailedKeys()), zap.Error(firstError(report)))
			return fmt.Errorf("failed to delete %d objects of story %s: %w", len(report.Failed), storyID, firstError(report))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.stories.DeleteStory(callCtx, storyID); err != nil {
		log.Error("Failed to delete story", zap.Error(err))
		return err
	}
	log.Info("Story removed", zap.Int("objects", len(keys)))
	return nil
}
