package repository

import (
	"context"

	"github.com/molpadia/molpastory/internal/domain/entity"
)

type StoryRepository interface {
	// Create the story row under the identifier already set on the story.
	CreateStory(ctx context.Context, story *entity.Story) error
	// Insert all segments of a story in one batch and return their identifiers in order.
	InsertSegments(ctx context.Context, storyId string, segments []*entity.Segment) ([]string, error)
	// Delete the story and its segments. Deleting an unknown story is a no-op.
	DeleteStory(ctx context.Context, storyId string) error
	// Get the story with its segments sorted by order.
	GetStory(ctx context.Context, storyId string) (*entity.Story, error)
	// List the stories owned by the user, newest first.
	ListStoriesByOwner(ctx context.Context, ownerId string) ([]*entity.Story, error)
	// Set the thumbnail of a story unless one is already set.
	SetThumbnail(ctx context.Context, storyId, url string) (bool, error)
}
