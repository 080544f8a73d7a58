package persistence

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeS3 serves the subset of the path-style S3 API used by BlobStore.
type fakeS3 struct {
	mu         sync.Mutex
	bucket     string
	objects    map[string][]byte
	denied     map[string]bool
	failPut    bool
	failDelete bool
}

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string][]byte{}, denied: map[string]bool{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.HasPrefix(path, f.bucket) {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(path, f.bucket), "/")

	switch {
	case r.Method == http.MethodPut && key != "":
		if f.failPut {
			writeS3Error(w, http.StatusServiceUnavailable, "SlowDown")
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
		if f.failDelete {
			writeS3Error(w, http.StatusInternalServerError, "InternalError")
			return
		}
		var req deleteRequest
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			writeS3Error(w, http.StatusBadRequest, "MalformedXML")
			return
		}
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><DeleteResult>`)
		for _, obj := range req.Objects {
			if f.denied[obj.Key] {
				sb.WriteString("<Error><Key>" + obj.Key + "</Key><Code>AccessDenied</Code><Message>Access Denied</Message></Error>")
				continue
			}
			delete(f.objects, obj.Key)
		}
		sb.WriteString(`</DeleteResult>`)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, sb.String())
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>` + f.bucket + `</Name><Prefix>` + prefix + `</Prefix><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			sb.WriteString("<Contents><Key>" + k + "</Key><Size>1</Size></Contents>")
		}
		sb.WriteString(`</ListBucketResult>`)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, sb.String())
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func setupBlobStore(t *testing.T, publicBaseURL string) (*BlobStore, *fakeS3) {
	fake := newFakeS3("vod")
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("auto"),
		Endpoint:         aws.String(srv.URL),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("key", "secret", ""),
	})
	require.NoError(t, err)
	return NewBlobStore(sess, publicBaseURL, zap.NewNop()), fake
}

func TestBlobStorePut(t *testing.T) {
	store, fake := setupBlobStore(t, "https://cdn.example.com/")

	url, err := store.Put(context.Background(), "vod", "stories/1/a.mp4", strings.NewReader("video"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/stories/1/a.mp4", url)
	assert.Equal(t, []byte("video"), fake.objects["stories/1/a.mp4"])
}

func TestBlobStorePutFailure(t *testing.T) {
	store, fake := setupBlobStore(t, "")
	fake.failPut = true

	_, err := store.Put(context.Background(), "vod", "stories/1/a.mp4", strings.NewReader("video"), "video/mp4")
	var uerr *repository.UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "stories/1/a.mp4", uerr.Key)
}

func TestBlobStoreDeleteMany(t *testing.T) {
	store, fake := setupBlobStore(t, "")
	fake.objects["stories/1/a.mp4"] = []byte("a")
	fake.objects["stories/1/b.mp4"] = []byte("b")
	fake.objects["stories/1/c.mp4"] = []byte("c")
	fake.denied["stories/1/b.mp4"] = true

	report := store.DeleteMany(context.Background(), "vod", []string{"stories/1/a.mp4", "stories/1/b.mp4", "stories/1/c.mp4"})
	assert.False(t, report.OK())
	assert.Equal(t, []string{"stories/1/b.mp4"}, report.FailedKeys())
	assert.ErrorContains(t, report.Failed["stories/1/b.mp4"], "AccessDenied")
	assert.Len(t, fake.objects, 1)
}

func TestBlobStoreDeleteManyRequestFailure(t *testing.T) {
	store, fake := setupBlobStore(t, "")
	fake.failDelete = true

	report := store.DeleteMany(context.Background(), "vod", []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, report.FailedKeys())
}

func TestBlobStoreListKeys(t *testing.T) {
	store, fake := setupBlobStore(t, "")
	fake.objects["stories/1/a.mp4"] = []byte("a")
	fake.objects["stories/1/thumbnails/a.jpg"] = []byte("t")
	fake.objects["stories/2/b.mp4"] = []byte("b")

	keys, err := store.ListKeys(context.Background(), "vod", "stories/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"stories/1/a.mp4", "stories/1/thumbnails/a.jpg"}, keys)
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		base string
		key  string
		want string
	}{
		{"https://cdn.example.com", "stories/1/a.mp4", "https://cdn.example.com/stories/1/a.mp4"},
		{"https://cdn.example.com/", "stories/1/my clip.mp4", "https://cdn.example.com/stories/1/my%20clip.mp4"},
		{"", "stories/1/a.mp4", "https://vod.s3.amazonaws.com/stories/1/a.mp4"},
	}
	for _, tt := range tests {
		store := &BlobStore{publicBaseURL: strings.TrimRight(tt.base, "/")}
		assert.Equal(t, tt.want, store.PublicURL("vod", tt.key))
	}
}
