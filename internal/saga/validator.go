package saga

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/molpadia/molpastory/internal/domain/entity"
)

// Segments of a story are inserted in a single statement, which has to stay
// under the bind parameter limit of PostgreSQL.
const MaxSegments = 1000

// A validated segment draft with the video that backs it.
type Pair struct {
	Draft entity.SegmentDraft
	File  entity.VideoFile
}

type segmentMetadata struct {
	QuestionText *string  `json:"question_text"`
	Duration     *float64 `json:"duration"`
}

// Validate the title and the segment metadata against the uploaded videos and
// return the drafts paired with their files in submission order.
func Validate(title string, metadata []byte, videos []entity.VideoFile) ([]Pair, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &ValidationError{MissingTitle, "title must be required"}
	}
	drafts, err := parseSegments(metadata)
	if err != nil {
		return nil, err
	}
	if len(drafts) > MaxSegments {
		return nil, &ValidationError{TooManySegments, fmt.Sprintf("a story must not have more than %d segments", MaxSegments)}
	}
	if len(drafts) != len(videos) {
		return nil, &ValidationError{CountMismatch, fmt.Sprintf("got %d segments but %d videos", len(drafts), len(videos))}
	}
	pairs := make([]Pair, len(drafts))
	for i := range drafts {
		pairs[i] = Pair{Draft: drafts[i], File: videos[i]}
	}
	return pairs, nil
}

// Parse the metadata as an ordered list of objects and fill in the defaults.
func parseSegments(metadata []byte) ([]entity.SegmentDraft, error) {
	data := bytes.TrimSpace(metadata)
	if len(data) == 0 || data[0] != '[' {
		return nil, &ValidationError{MalformedMetadata, "segments must be a JSON array"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &ValidationError{MalformedMetadata, fmt.Sprintf("cannot parse segments: %v", err)}
	}
	drafts := make([]entity.SegmentDraft, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, &ValidationError{MalformedMetadata, fmt.Sprintf("segment %d must be an object", i)}
		}
		var m segmentMetadata
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, &ValidationError{MalformedMetadata, fmt.Sprintf("cannot parse segment %d: %v", i, err)}
		}
		draft := entity.SegmentDraft{QuestionText: fmt.Sprintf("Question %d", i+1)}
		if m.QuestionText != nil && strings.TrimSpace(*m.QuestionText) != "" {
			draft.QuestionText = *m.QuestionText
		}
		if m.Duration != nil {
			if *m.Duration < 0 {
				return nil, &ValidationError{MalformedMetadata, fmt.Sprintf("segment %d has a negative duration", i)}
			}
			draft.Duration = *m.Duration
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}
