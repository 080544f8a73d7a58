package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/molpadia/molpastory/internal/domain/entity"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"github.com/molpadia/molpastory/internal/saga"
	"go.uber.org/zap"
)

// Multipart parts above this size are spooled to disk.
const maxMemory = 32 << 20

type controller struct {
	stories        repository.StoryRepository
	saga           StorySaga
	maxRequestSize int64
	logger         *zap.Logger
}

func (c *controller) handle(fn func(http.ResponseWriter, *http.Request) error) http.Handler {
	return appHandler{fn: fn, logger: c.logger}
}

// Create a story from a multipart request carrying the title, the segment
// metadata and one video per segment.
func (c *controller) createStory(w http.ResponseWriter, r *http.Request) error {
	if c.maxRequestSize > 0 {
		if r.ContentLength > c.maxRequestSize {
			return &AppError{http.StatusRequestEntityTooLarge, fmt.Sprintf("request must not exceed %d bytes", c.maxRequestSize)}
		}
		r.Body = http.MaxBytesReader(w, r.Body, c.maxRequestSize)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &AppError{http.StatusRequestEntityTooLarge, fmt.Sprintf("request must not exceed %d bytes", maxErr.Limit)}
		}
		return &AppError{http.StatusBadRequest, fmt.Sprintf("cannot parse multipart form: %v", err)}
	}
	defer r.MultipartForm.RemoveAll()

	files, err := openVideos(r.MultipartForm.File["videos"])
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	if err != nil {
		return fmt.Errorf("cannot open uploaded video: %w", err)
	}

	in := saga.Input{
		OwnerID:        ownerFromContext(r.Context()),
		Title:          r.FormValue("title"),
		Segments:       []byte(r.FormValue("segments")),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for i, fh := range r.MultipartForm.File["videos"] {
		in.Videos = append(in.Videos, entity.VideoFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        files[i],
		})
	}

	res, err := c.saga.Create(r.Context(), in)
	if err != nil {
		var verr *saga.ValidationError
		switch {
		case errors.As(err, &verr):
			return &AppError{http.StatusBadRequest, verr.Error()}
		case errors.Is(err, saga.ErrRunInProgress):
			return &AppError{http.StatusConflict, err.Error()}
		}
		return err
	}
	return replyJSON(w, res, http.StatusCreated)
}

// List the stories of the caller, newest first.
func (c *controller) listStories(w http.ResponseWriter, r *http.Request) error {
	stories, err := c.stories.ListStoriesByOwner(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		return err
	}
	resp := StoryListResponse{Stories: make([]*StoryResponse, 0, len(stories))}
	for _, story := range stories {
		resp.Stories = append(resp.Stories, newStoryResponse(story))
	}
	return replyJSON(w, resp, http.StatusOK)
}

// Get a story of the caller with its segments.
func (c *controller) getStory(w http.ResponseWriter, r *http.Request) error {
	story, err := c.ownStory(r)
	if err != nil {
		return err
	}
	return replyJSON(w, newStoryResponse(story), http.StatusOK)
}

// Delete a story of the caller together with its stored objects.
func (c *controller) deleteStory(w http.ResponseWriter, r *http.Request) error {
	story, err := c.ownStory(r)
	if err != nil {
		return err
	}
	if err := c.saga.Remove(r.Context(), story.Id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Get the story named in the path. Stories of other owners are reported as
// missing.
func (c *controller) ownStory(r *http.Request) (*entity.Story, error) {
	id := mux.Vars(r)["id"]
	if id == "" {
		return nil, &AppError{http.StatusBadRequest, "story ID must be required"}
	}
	story, err := c.stories.GetStory(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && story.OwnerId != ownerFromContext(r.Context())) {
		return nil, &AppError{http.StatusNotFound, "story does not exist"}
	}
	if err != nil {
		return nil, err
	}
	return story, nil
}

func openVideos(headers []*multipart.FileHeader) ([]multipart.File, error) {
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Respond the output with JSON format to the client.
func replyJSON(w http.ResponseWriter, data interface{}, code int) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
