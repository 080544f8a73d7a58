package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	SagaRunStatusPending   = "PENDING"
	SagaRunStatusCommitted = "COMMITTED"
	SagaRunStatusFailed    = "FAILED"
)

// The record of a creation saga run kept for idempotent retries and for
// remediation of runs whose compensation did not complete.
type SagaRun struct {
	Id          string
	OwnerId     string
	Status      string
	Token       string // Changes on every reservation of the ID.
	StoryId     string   `dynamodbav:",omitempty"`
	VideoURLs   []string `dynamodbav:",omitempty"`
	OrphanKeys  []string `dynamodbav:",omitempty"`
	OrphanStory bool     `dynamodbav:",omitempty"`
	CreatedAt   int64
	ExpiresAt   int64 // A pending run past this time is no longer running.
}

func NewSagaRun(id, ownerId string, now time.Time, ttl time.Duration) *SagaRun {
	return &SagaRun{
		Id:        id,
		OwnerId:   ownerId,
		Status:    SagaRunStatusPending,
		Token:     uuid.NewString(),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// Mark the run as committed with the result returned to the client.
func (r *SagaRun) Commit(storyId string, videoURLs []string) {
	r.Status = SagaRunStatusCommitted
	r.StoryId = storyId
	r.VideoURLs = videoURLs
}

// Mark the run as failed, keeping whatever could not be cleaned up.
func (r *SagaRun) Fail(storyId string, orphanKeys []string, orphanStory bool) {
	r.Status = SagaRunStatusFailed
	r.StoryId = storyId
	r.OrphanKeys = orphanKeys
	r.OrphanStory = orphanStory
}

// Report whether a new run may take the ID over: the run left nothing behind,
// or it is pending past its expiry because its process went away.
func (r *SagaRun) Retryable(now time.Time) bool {
	switch r.Status {
	case SagaRunStatusPending:
		return now.Unix() > r.ExpiresAt
	case SagaRunStatusFailed:
		return len(r.OrphanKeys) == 0 && !r.OrphanStory
	}
	return false
}
