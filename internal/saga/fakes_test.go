package saga

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
)

type mockBlobStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	puts        []string
	deletes     [][]string
	putHook     func(ctx context.Context, key string, body []byte) error
	failDeletes map[string]bool
	listErr     error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: map[string][]byte{}, failDeletes: map[string]bool{}}
}

func (s *mockBlobStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.puts = append(s.puts, key)
	hook := s.putHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, key, data); err != nil {
			return "", &repository.UploadError{Key: key, Err: err}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (s *mockBlobStore) DeleteMany(ctx context.Context, bucket string, keys []string) repository.DeleteReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, append([]string(nil), keys...))
	var report repository.DeleteReport
	for _, key := range keys {
		if s.failDeletes[key] {
			report.Fail(key, errors.New("access denied"))
			continue
		}
		delete(s.objects, key)
	}
	return report
}

func (s *mockBlobStore) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *mockBlobStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

func (s *mockBlobStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type mockStoryRepository struct {
	mu              sync.Mutex
	stories         map[string]*entity.Story
	segments        map[string][]*entity.Segment
	createErr       error
	createCommits   bool // The row is written even though createErr is returned.
	insertErr       error
	deleteErr       error
	deleteCalls     int
	insertedBatches int
}

func newMockStoryRepository() *mockStoryRepository {
	return &mockStoryRepository{stories: map[string]*entity.Story{}, segments: map[string][]*entity.Segment{}}
}

func (r *mockStoryRepository) CreateStory(ctx context.Context, story *entity.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil && !r.createCommits {
		return r.createErr
	}
	copied := *story
	r.stories[story.Id] = &copied
	return r.createErr
}

func (r *mockStoryRepository) seedStory(title, ownerId string) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stories[id] = entity.NewStory(id, title, ownerId, time.Now())
	return id
}

func (r *mockStoryRepository) InsertSegments(ctx context.Context, storyId string, segments []*entity.Segment) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertedBatches++
	if r.insertErr != nil {
		// Simulate a partially applied batch.
		if len(segments) > 0 {
			r.segments[storyId] = append(r.segments[storyId], segments[0])
		}
		return nil, r.insertErr
	}
	if _, ok := r.stories[storyId]; !ok {
		return nil, errors.New("foreign key violation")
	}
	ids := make([]string, len(segments))
	for i, seg := range segments {
		copied := *seg
		copied.Id = uuid.NewString()
		ids[i] = copied.Id
		r.segments[storyId] = append(r.segments[storyId], &copied)
	}
	return ids, nil
}

func (r *mockStoryRepository) DeleteStory(ctx context.Context, storyId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.segments, storyId)
	delete(r.stories, storyId)
	return nil
}

func (r *mockStoryRepository) GetStory(ctx context.Context, storyId string) (*entity.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[storyId]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *story
	copied.Segments = r.segments[storyId]
	return &copied, nil
}

func (r *mockStoryRepository) ListStoriesByOwner(ctx context.Context, ownerId string) ([]*entity.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stories []*entity.Story
	for _, story := range r.stories {
		if story.OwnerId == ownerId {
			stories = append(stories, story)
		}
	}
	return stories, nil
}

func (r *mockStoryRepository) SetThumbnail(ctx context.Context, storyId, url string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[storyId]
	if !ok || story.ThumbnailURL != nil {
		return false, nil
	}
	story.ThumbnailURL = &url
	return true, nil
}

type mockSagaRunRepository struct {
	mu        sync.Mutex
	runs      map[string]*entity.SagaRun
	saved     []*entity.SagaRun
	deleted   []string
	deleteErr error
}

func newMockSagaRunRepository() *mockSagaRunRepository {
	return &mockSagaRunRepository{runs: map[string]*entity.SagaRun{}}
}

func (r *mockSagaRunRepository) Reserve(ctx context.Context, run *entity.SagaRun) (*entity.SagaRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[run.Id]; ok {
		copied := *existing
		return &copied, false, nil
	}
	copied := *run
	r.runs[run.Id] = &copied
	return run, true, nil
}

func (r *mockSagaRunRepository) Save(ctx context.Context, run *entity.SagaRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	r.runs[run.Id] = &copied
	r.saved = append(r.saved, &copied)
	return nil
}

func (r *mockSagaRunRepository) TakeOver(ctx context.Context, run, prev *entity.SagaRun) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.runs[run.Id]; !ok || stored.Token != prev.Token {
		return false, nil
	}
	copied := *run
	r.runs[run.Id] = &copied
	return true, nil
}

func (r *mockSagaRunRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.runs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func videos(names ...string) []entity.VideoFile {
	files := make([]entity.VideoFile, len(names))
	for i, name := range names {
		files[i] = entity.VideoFile{
			Filename:    name,
			ContentType: "video/mp4",
			Size:        int64(len(name)),
			Body:        strings.NewReader(name),
		}
	}
	return files
}
