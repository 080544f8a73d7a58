package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"go.uber.org/zap"
)

type Config struct {
	Bucket               string
	MaxConcurrentUploads int
	CallTimeout          time.Duration // Bound of each repository and delete call.
	UploadTimeout        time.Duration // Bound of each object upload.
}

// The creation request handed over by the transport layer.
type Input struct {
	OwnerID        string
	Title          string
	Segments       []byte // JSON array of segment metadata.
	Videos         []entity.VideoFile
	IdempotencyKey string
}

type Result struct {
	StoryID   string   `json:"story_id"`
	VideoURLs []string `json:"video_urls"`
}

// Orchestrator runs the story creation saga across the blob store and the
// story repository. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	blobs       repository.BlobStore
	stories     repository.StoryRepository
	runs        repository.SagaRunRepository
	compensator *Compensator
	cfg         Config
	logger      *zap.Logger
}

// Create an orchestrator. runs may be nil, which disables idempotency keys and
// remediation records.
func New(blobs repository.BlobStore, stories repository.StoryRepository, runs repository.SagaRunRepository, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	logger = logger.Named("StorySaga")
	return &Orchestrator{
		blobs:       blobs,
		stories:     stories,
		runs:        runs,
		compensator: NewCompensator(blobs, stories, cfg.Bucket, cfg.CallTimeout, logger),
		cfg:         cfg,
		logger:      logger,
	}
}

// Create a story with its segments. It returns a *ValidationError for bad
// input, ErrRunInProgress for a concurrent retry, and otherwise an error
// matching ErrStoryNotCreated. The run is detached from the cancellation of
// ctx so that an aborted request still finishes or compensates.
func (o *Orchestrator) Create(ctx context.Context, in Input) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	pairs, err := Validate(in.Title, in.Segments, in.Videos)
	if err != nil {
		sagaRunsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	run, prev, err := o.reserve(ctx, in, len(pairs))
	if err != nil || prev != nil {
		return prev, err
	}

	state := NewState()
	res, err := o.execute(ctx, state, in, pairs)
	o.finish(ctx, run, in.OwnerID, state, res)
	return res, err
}

// Drive the forward steps. Any failure hands the recorded state over to compensation.
func (o *Orchestrator) execute(ctx context.Context, state *State, in Input, pairs []Pair) (*Result, error) {
	// The ID is recorded before the insert: a create that timed out may still
	// have committed, and compensation has to find that row.
	storyID := uuid.NewString()
	state.StoryID = storyID
	if err := o.createStory(ctx, entity.NewStory(storyID, in.Title, in.OwnerID, time.Now().UTC())); err != nil {
		return nil, o.abort(ctx, state, err)
	}
	state.transition(PhaseStoryCreated)
	log := o.logger.With(zap.String("storyID", storyID))

	state.Pending = make([]*entity.Segment, len(pairs))
	for i, p := range pairs {
		state.Pending[i] = &entity.Segment{
			StoryId:      storyID,
			QuestionText: p.Draft.QuestionText,
			Duration:     p.Draft.Duration,
			Order:        i,
		}
	}

	state.transition(PhaseUploadingSegments)
	if err := o.uploadSegments(ctx, state, pairs); err != nil {
		return nil, o.abort(ctx, state, err)
	}
	log.Debug("Segment videos uploaded", zap.Int("count", len(state.UploadedKeys)))

	if err := o.insertSegments(ctx, storyID, state.Pending); err != nil {
		return nil, o.abort(ctx, state, err)
	}
	state.transition(PhaseSegmentsPersisted)

	urls := make([]string, len(state.Pending))
	for i, seg := range state.Pending {
		urls[i] = seg.VideoURL
	}
	state.Pending = nil
	state.transition(PhaseCommitted)
	log.Info("Story created", zap.Int("segments", len(urls)))
	return &Result{StoryID: storyID, VideoURLs: urls}, nil
}

// Stop forward progress and compensate whatever the state has recorded.
func (o *Orchestrator) abort(ctx context.Context, state *State, cause error) error {
	failedAt := state.Phase
	o.logger.Error("Story creation failed",
		zap.String("phase", failedAt.String()),
		zap.String("storyID", state.StoryID),
		zap.Error(cause),
	)
	if !state.hasSideEffects() {
		state.transition(PhaseRolledBack)
		return &Error{FailedAt: failedAt, Phase: state.Phase, History: state.History, Cause: cause}
	}
	state.transition(PhaseCompensating)
	out := o.compensator.Compensate(ctx, state.StoryID, state.UploadedKeys)
	state.OrphanKeys = out.OrphanKeys
	state.OrphanStory = out.OrphanStory
	state.transition(out.Phase)
	return &Error{FailedAt: failedAt, Phase: state.Phase, History: state.History, Cause: cause}
}

func (o *Orchestrator) createStory(ctx context.Context, story *entity.Story) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.stories.CreateStory(ctx, story); err != nil {
		return asPersistenceError("create story", err)
	}
	return nil
}

func (o *Orchestrator) insertSegments(ctx context.Context, storyID string, segments []*entity.Segment) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if _, err := o.stories.InsertSegments(ctx, storyID, segments); err != nil {
		return asPersistenceError("insert segments", err)
	}
	return nil
}

func asPersistenceError(op string, err error) error {
	var perr *repository.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &repository.PersistenceError{Op: op, Err: err}
}

// Get an upper bound of how long a run over n videos can take. Every step
// is bounded by its own timeout, so a run still pending past this bound was
// abandoned by its process.
func (o *Orchestrator) runTTL(n int) time.Duration {
	waves := (n + o.cfg.MaxConcurrentUploads - 1) / o.cfg.MaxConcurrentUploads
	// create, insert, three compensation deletes, listing and the final record
	return time.Duration(waves)*o.cfg.UploadTimeout + 7*o.cfg.CallTimeout + time.Minute
}

// Claim the idempotency key of the request. A committed run is answered with
// its original result. A run that left nothing behind, or was abandoned while
// pending, is taken over by this request.
func (o *Orchestrator) reserve(ctx context.Context, in Input, videos int) (*entity.SagaRun, *Result, error) {
	if o.runs == nil || in.IdempotencyKey == "" {
		return nil, nil, nil
	}
	now := time.Now()
	run := entity.NewSagaRun(in.OwnerID+":"+in.IdempotencyKey, in.OwnerID, now, o.runTTL(videos))
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	existing, claimed, err := o.runs.Reserve(callCtx, run)
	if err != nil {
		return nil, nil, &Error{FailedAt: PhaseInit, Phase: PhaseRolledBack, Cause: err}
	}
	if claimed {
		return run, nil, nil
	}
	if existing.Status == entity.SagaRunStatusCommitted {
		o.logger.Info("Replaying committed run", zap.String("runID", existing.Id), zap.String("storyID", existing.StoryId))
		return nil, &Result{StoryID: existing.StoryId, VideoURLs: existing.VideoURLs}, nil
	}
	if existing.Retryable(now) {
		ok, err := o.runs.TakeOver(callCtx, run, existing)
		if err != nil {
			return nil, nil, &Error{FailedAt: PhaseInit, Phase: PhaseRolledBack, Cause: err}
		}
		if ok {
			o.logger.Info("Retrying abandoned run", zap.String("runID", run.Id), zap.String("previousStatus", existing.Status))
			return run, nil, nil
		}
		return nil, nil, ErrRunInProgress
	}
	if existing.Status == entity.SagaRunStatusPending {
		return nil, nil, ErrRunInProgress
	}
	return nil, nil, &Error{FailedAt: PhaseInit, Phase: PhaseFailed, Cause: fmt.Errorf("run %s already failed", existing.Id)}
}

// Record the terminal phase. Failed runs are persisted for remediation even
// when the request carried no idempotency key.
func (o *Orchestrator) finish(ctx context.Context, run *entity.SagaRun, ownerID string, state *State, res *Result) {
	sagaRunsTotal.WithLabelValues(state.Phase.String()).Inc()
	if o.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	var err error
	switch state.Phase {
	case PhaseCommitted:
		if run == nil {
			return
		}
		run.Commit(res.StoryID, res.VideoURLs)
		err = o.runs.Save(ctx, run)
	case PhaseRolledBack:
		if run == nil {
			return
		}
		if err = o.runs.Delete(ctx, run.Id); err != nil {
			o.logger.Warn("Failed to release saga run, recording it as failed", zap.String("runID", run.Id), zap.Error(err))
			// A failed run without residue can be taken over by a retry.
			run.Fail(state.StoryID, nil, false)
			err = o.runs.Save(ctx, run)
		}
	case PhaseFailed:
		if run == nil {
			run = entity.NewSagaRun(uuid.NewString(), ownerID, time.Now(), 0)
		}
		run.Fail(state.StoryID, state.OrphanKeys, state.OrphanStory)
		err = o.runs.Save(ctx, run)
	}
	if err != nil {
		o.logger.Error("Failed to record saga run",
			zap.String("phase", state.Phase.String()),
			zap.String("storyID", state.StoryID),
			zap.Error(err),
		)
	}
}

