package entity

import (
	"io"
	"time"
)

// The entity of a video story.
type Story struct {
	Id           string
	Title        string
	OwnerId      string
	ThumbnailURL *string
	CreatedAt    time.Time
	Segments     []*Segment
}

func NewStory(id, title, ownerId string, createdAt time.Time) *Story {
	return &Story{
		Id:        id,
		Title:     title,
		OwnerId:   ownerId,
		CreatedAt: createdAt,
	}
}

// The segment of a story, one answered question backed by a video object.
type Segment struct {
	Id           string
	StoryId      string
	QuestionText string
	Duration     float64
	VideoURL     string
	Order        int // Zero-based submission index, unique within the story.
}

// The metadata submitted for a segment before its video is uploaded.
type SegmentDraft struct {
	QuestionText string
	Duration     float64
}

// The uploaded video file paired with a segment draft.
type VideoFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
