package saga

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		segments string
		videos   int
		kind     ValidationKind
	}{
		{"blank title", "  ", `[{}]`, 1, MissingTitle},
		{"empty payload", "Trip", ``, 0, MalformedMetadata},
		{"null payload", "Trip", `null`, 0, MalformedMetadata},
		{"object payload", "Trip", `{"question_text":"Q1"}`, 1, MalformedMetadata},
		{"broken json", "Trip", `[{"question_text":`, 1, MalformedMetadata},
		{"number element", "Trip", `[1, 2]`, 2, MalformedMetadata},
		{"null element", "Trip", `[null]`, 1, MalformedMetadata},
		{"wrong question type", "Trip", `[{"question_text": 5}]`, 1, MalformedMetadata},
		{"wrong duration type", "Trip", `[{"duration": "long"}]`, 1, MalformedMetadata},
		{"negative duration", "Trip", `[{"duration": -1}]`, 1, MalformedMetadata},
		{"fewer videos", "Trip", `[{}, {}]`, 1, CountMismatch},
		{"more videos", "Trip", `[{}]`, 3, CountMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := make([]string, tt.videos)
			for i := range names {
				names[i] = "clip.mp4"
			}
			pairs, err := Validate(tt.title, []byte(tt.segments), videos(names...))
			require.Error(t, err)
			assert.Nil(t, pairs)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.kind, verr.Kind)
		})
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	pairs, err := Validate("Trip", []byte(`[{}, {"question_text": "Where?", "duration": 12.5}, {"question_text": " ", "duration": null}]`), videos("a.mp4", "b.mp4", "c.mp4"))
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, "Question 1", pairs[0].Draft.QuestionText)
	assert.Equal(t, 0.0, pairs[0].Draft.Duration)
	assert.Equal(t, "Where?", pairs[1].Draft.QuestionText)
	assert.Equal(t, 12.5, pairs[1].Draft.Duration)
	assert.Equal(t, "Question 3", pairs[2].Draft.QuestionText)

	for i, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		assert.Equal(t, name, pairs[i].File.Filename)
	}
}

func TestValidateAcceptsEmptyStory(t *testing.T) {
	pairs, err := Validate("Trip", []byte(` [] `), nil)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestValidateLimitsSegmentCount(t *testing.T) {
	segments := func(n int) []byte {
		return []byte("[" + strings.Repeat("{},", n-1) + "{}]")
	}
	files := func(n int) []string {
		names := make([]string, n)
		for i := range names {
			names[i] = "clip.mp4"
		}
		return names
	}

	pairs, err := Validate("Trip", segments(MaxSegments), videos(files(MaxSegments)...))
	require.NoError(t, err)
	assert.Len(t, pairs, MaxSegments)

	_, err = Validate("Trip", segments(MaxSegments+1), videos(files(MaxSegments+1)...))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, TooManySegments, verr.Kind)
}
