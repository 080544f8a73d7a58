package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
)

var _ repository.StoryRepository = (*StoryRepository)(nil)

const createStoryQuery = `
INSERT INTO stories (id, title, owner_id, created_at)
VALUES ($1, $2, $3, $4)`

const deleteSegmentsQuery = `DELETE FROM segments WHERE story_id = $1`

const deleteStoryQuery = `DELETE FROM stories WHERE id = $1`

const getStoryQuery = `
SELECT id, title, owner_id, thumbnail_url, created_at
FROM stories
WHERE id = $1`

const listSegmentsQuery = `
SELECT id, story_id, question_text, duration, video_url, order_index
FROM segments
WHERE story_id = $1
ORDER BY order_index`

const listStoriesByOwnerQuery = `
SELECT id, title, owner_id, thumbnail_url, created_at
FROM stories
WHERE owner_id = $1
ORDER BY created_at DESC`

const setThumbnailQuery = `
UPDATE stories SET thumbnail_url = $2
WHERE id = $1 AND thumbnail_url IS NULL`

type StoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStoryRepository(db *sql.DB, logger *zap.Logger) *StoryRepository {
	return &StoryRepository{db: db, logger: logger.Named("StoryRepository")}
}

// Create a story row. The ID is allocated by the caller, so a failed call
// still names the row it may have written.
func (r *StoryRepository) CreateStory(ctx context.Context, story *entity.Story) error {
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, createStoryQuery, story.Id, story.Title, story.OwnerId, story.CreatedAt); err != nil {
		r.logger.Error("Failed to create story", zap.String("storyID", story.Id), zap.String("ownerID", story.OwnerId), zap.Error(err))
		return &repository.PersistenceError{Op: "create story", Err: err}
	}
	r.logger.Info("Story created", zap.String("storyID", story.Id))
	return nil
}

// Insert the segments with a single multi-row statement. Segment IDs are
// allocated before the insert, so they are returned in submission order.
func (r *StoryRepository) InsertSegments(ctx context.Context, storyId string, segments []*entity.Segment) ([]string, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	const columns = 6
	var sb strings.Builder
	sb.WriteString("INSERT INTO segments (id, story_id, question_text, duration, video_url, order_index) VALUES ")
	args := make([]any, 0, len(segments)*columns)
	ids := make([]string, 0, len(segments))
	for i, seg := range segments {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * columns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		id := uuid.New().String()
		args = append(args, id, storyId, seg.QuestionText, seg.Duration, seg.VideoURL, seg.Order)
		ids = append(ids, id)
	}
	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		r.logger.Error("Failed to insert segments", zap.String("storyID", storyId), zap.Int("count", len(segments)), zap.Error(err))
		return nil, &repository.PersistenceError{Op: "insert segments", Err: err}
	}
	for i, seg := range segments {
		seg.Id = ids[i]
		seg.StoryId = storyId
	}
	return ids, nil
}

// Delete the story with its segments in one transaction. The segments go
// first so the delete does not depend on the foreign key cascade.
func (r *StoryRepository) DeleteStory(ctx context.Context, storyId string) error {
	if _, err := uuid.Parse(storyId); err != nil {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &repository.PersistenceError{Op: "delete story", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteSegmentsQuery, storyId); err != nil {
		r.logger.Error("Failed to delete segments", zap.String("storyID", storyId), zap.Error(err))
		return &repository.PersistenceError{Op: "delete segments", Err: err}
	}
	res, err := tx.ExecContext(ctx, deleteStoryQuery, storyId)
	if err != nil {
		r.logger.Error("Failed to delete story", zap.String("storyID", storyId), zap.Error(err))
		return &repository.PersistenceError{Op: "delete story", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &repository.PersistenceError{Op: "delete story", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.logger.Debug("Story already deleted", zap.String("storyID", storyId))
	}
	return nil
}

// Get the story by its ID together with the ordered segments.
func (r *StoryRepository) GetStory(ctx context.Context, storyId string) (*entity.Story, error) {
	if _, err := uuid.Parse(storyId); err != nil {
		return nil, repository.ErrNotFound
	}
	story, err := scanStory(r.db.QueryRowContext(ctx, getStoryQuery, storyId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		r.logger.Error("Failed to get story", zap.String("storyID", storyId), zap.Error(err))
		return nil, &repository.PersistenceError{Op: "get story", Err: err}
	}
	rows, err := r.db.QueryContext(ctx, listSegmentsQuery, storyId)
	if err != nil {
		return nil, &repository.PersistenceError{Op: "list segments", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		seg := &entity.Segment{}
		if err := rows.Scan(&seg.Id, &seg.StoryId, &seg.QuestionText, &seg.Duration, &seg.VideoURL, &seg.Order); err != nil {
			return nil, &repository.PersistenceError{Op: "scan segment", Err: err}
		}
		story.Segments = append(story.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, &repository.PersistenceError{Op: "list segments", Err: err}
	}
	return story, nil
}

// List the stories of an owner without their segments.
func (r *StoryRepository) ListStoriesByOwner(ctx context.Context, ownerId string) ([]*entity.Story, error) {
	rows, err := r.db.QueryContext(ctx, listStoriesByOwnerQuery, ownerId)
	if err != nil {
		r.logger.Error("Failed to list stories", zap.String("ownerID", ownerId), zap.Error(err))
		return nil, &repository.PersistenceError{Op: "list stories", Err: err}
	}
	defer rows.Close()
	stories := []*entity.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, &repository.PersistenceError{Op: "scan story", Err: err}
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, &repository.PersistenceError{Op: "list stories", Err: err}
	}
	return stories, nil
}

// Set the thumbnail URL. The first thumbnail wins, later calls report false.
func (r *StoryRepository) SetThumbnail(ctx context.Context, storyId, url string) (bool, error) {
	if _, err := uuid.Parse(storyId); err != nil {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, setThumbnailQuery, storyId, url)
	if err != nil {
		r.logger.Error("Failed to set thumbnail", zap.String("storyID", storyId), zap.Error(err))
		return false, &repository.PersistenceError{Op: "set thumbnail", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &repository.PersistenceError{Op: "set thumbnail", Err: err}
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*entity.Story, error) {
	var (
		id, title, ownerId string
		thumbnail          sql.NullString
		createdAt          time.Time
	)
	if err := row.Scan(&id, &title, &ownerId, &thumbnail, &createdAt); err != nil {
		return nil, err
	}
	story := entity.NewStory(id, title, ownerId, createdAt)
	if thumbnail.Valid {
		story.ThumbnailURL = &thumbnail.String
	}
	return story, nil
}
