package app

import (
	"time"

	"github.com/molpadia/molpastory/internal/domain/entity"
)

type StoryResponse struct {
	Id           string             `json:"id"`
	Title        string             `json:"title"`
	ThumbnailURL *string            `json:"thumbnail_url"`
	CreatedAt    time.Time          `json:"created_at"`
	Segments     []*SegmentResponse `json:"segments,omitempty"`
}

type SegmentResponse struct {
	Id           string  `json:"id"`
	QuestionText string  `json:"question_text"`
	Duration     float64 `json:"duration"`
	VideoURL     string  `json:"video_url"`
	Order        int     `json:"order"`
}

type StoryListResponse struct {
	Stories []*StoryResponse `json:"stories"`
}

func newStoryResponse(story *entity.Story) *StoryResponse {
	resp := &StoryResponse{
		Id:           story.Id,
		Title:        story.Title,
		ThumbnailURL: story.ThumbnailURL,
		CreatedAt:    story.CreatedAt,
	}
	for _, seg := range story.Segments {
		resp.Segments = append(resp.Segments, &SegmentResponse{
			Id:           seg.Id,
			QuestionText: seg.QuestionText,
			Duration:     seg.Duration,
			VideoURL:     seg.VideoURL,
			Order:        seg.Order,
		})
	}
	return resp
}
