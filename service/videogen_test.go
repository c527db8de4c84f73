package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue is an in-process stand-in for the generation queue service:
// submit returns a request id, status reports IN_PROGRESS for a configured
// number of polls before completing or failing, and the result endpoint
// hands out a clip URL served by the same server.
type fakeQueue struct {
	mu          sync.Mutex
	srv         *httptest.Server
	jobs        map[string]*fakeJob
	nextID      int
	pollsUntil  map[string]int    // prompt -> polls before terminal status
	failDetail  map[string]string // prompt -> failure detail body
	rejectBody  string            // when set, every submit is rejected 403
	emptyResult bool              // result endpoint returns {} with no video
	statusCode  int               // when set, the status endpoint returns it bare
	lastAuth    string
}

type fakeJob struct {
	prompt     string
	pollsLeft  int
	failDetail string
}

func newFakeQueue(t *testing.T) *fakeQueue {
	f := &fakeQueue{
		jobs:       map[string]*fakeJob{},
		pollsUntil: map[string]int{},
		failDetail: map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeQueue) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost:
		if f.rejectBody != "" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, f.rejectBody)
			return
		}
		f.lastAuth = r.Header.Get("Authorization")
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.nextID++
		id := fmt.Sprintf("req-%04d", f.nextID)
		f.jobs[id] = &fakeJob{
			prompt:     req.Prompt,
			pollsLeft:  f.pollsUntil[req.Prompt],
			failDetail: f.failDetail[req.Prompt],
		}
		json.NewEncoder(w).Encode(map[string]string{"request_id": id})

	case strings.HasSuffix(r.URL.Path, "/status"):
		if f.statusCode != 0 {
			w.WriteHeader(f.statusCode)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/requests/"), "/status")
		job, ok := f.jobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if job.pollsLeft > 0 {
			job.pollsLeft--
			json.NewEncoder(w).Encode(map[string]string{"status": JobStatusInProgress})
			return
		}
		if job.failDetail != "" {
			json.NewEncoder(w).Encode(map[string]string{"status": JobStatusFailed})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":       JobStatusCompleted,
			"response_url": f.srv.URL + "/requests/" + id,
		})

	case strings.HasPrefix(r.URL.Path, "/requests/"):
		id := strings.TrimPrefix(r.URL.Path, "/requests/")
		job, ok := f.jobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if job.failDetail != "" {
			io.WriteString(w, job.failDetail)
			return
		}
		if f.emptyResult {
			io.WriteString(w, "{}")
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"video": map[string]string{"url": f.srv.URL + "/clips/" + id},
		})

	case strings.HasPrefix(r.URL.Path, "/clips/"):
		id := strings.TrimPrefix(r.URL.Path, "/clips/")
		io.WriteString(w, "clip:"+f.jobs[id].prompt)

	default:
		http.NotFound(w, r)
	}
}

// fakeStore records uploads in memory and hands back deterministic URLs.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, baseURL: "https://cdn.test"}
}

// newServingStore is a fakeStore whose returned URLs resolve: uploads become
// downloadable from an in-process server.
func newServingStore(t *testing.T) *fakeStore {
	s := newFakeStore()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		data, ok := s.objects[strings.TrimPrefix(r.URL.Path, "/")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	s.baseURL = srv.URL
	return s
}

func (s *fakeStore) Upload(ctx context.Context, reader io.Reader, objectName string, size int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[objectName] = data
	s.mu.Unlock()
	return s.baseURL + "/" + objectName, nil
}

func (s *fakeStore) object(suffix string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, data := range s.objects {
		if strings.HasSuffix(name, suffix) {
			return data, name, true
		}
	}
	return nil, "", false
}

func newTestGenerator(f *fakeQueue, store *fakeStore) *Generator {
	g := NewGenerator(f.srv.URL, "test-key", store)
	g.PollInterval = time.Millisecond
	g.MaxPollAttempts = 100
	return g
}

func TestGenerateClips_PreservesPromptOrder(t *testing.T) {
	queue := newFakeQueue(t)
	store := newFakeStore()
	g := newTestGenerator(queue, store)

	prompts := []string{"a sunrise", "a door closing", "rain on glass", "a candle"}
	// Completion order is scrambled relative to submission order.
	queue.pollsUntil["a sunrise"] = 5
	queue.pollsUntil["a door closing"] = 0
	queue.pollsUntil["rain on glass"] = 3
	queue.pollsUntil["a candle"] = 1

	var mu sync.Mutex
	var reported []int
	urls, err := g.GenerateClips(context.Background(), prompts, "test-film", func(done, total int) {
		mu.Lock()
		reported = append(reported, done)
		mu.Unlock()
		assert.Equal(t, 4, total)
	})
	require.NoError(t, err)
	require.Len(t, urls, 4)

	for i := range prompts {
		assert.True(t, strings.HasSuffix(urls[i], fmt.Sprintf("_shot%d.mp4", i+1)),
			"url %d = %q", i, urls[i])
		assert.Contains(t, urls[i], "videos/test-film/")
	}

	// Each stored object holds the clip for its own prompt, proving the
	// index mapping held through concurrent completion.
	for i, prompt := range prompts {
		data, name, ok := store.object(fmt.Sprintf("_shot%d.mp4", i+1))
		require.True(t, ok, "no object for shot %d", i+1)
		assert.Equal(t, "clip:"+prompt, string(data), "object %s", name)
	}

	require.NotEmpty(t, reported)
	assert.Equal(t, 4, reported[len(reported)-1])
	assert.Equal(t, "Key test-key", queue.lastAuth)
}

func TestGenerateClips_SingleShotFailureFailsBatch(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())

	prompts := []string{"a", "b", "c", "d"}
	queue.failDetail["c"] = "model exploded"

	urls, err := g.GenerateClips(context.Background(), prompts, "test-film", nil)
	assert.Nil(t, urls)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindService, genErr.Kind)
	assert.Equal(t, 3, genErr.Shot)
	assert.Contains(t, genErr.Message, "model exploded")
	assert.Equal(t, "shot 3 failed: model exploded", genErr.Error())
}

func TestGenerateClips_CreditExhaustedOnSubmit(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())
	queue.rejectBody = "Insufficient credits to run this request"

	_, err := g.GenerateClips(context.Background(), []string{"a"}, "test-film", nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindCreditExhausted, genErr.Kind)
	assert.Equal(t, "Insufficient credits to run this request", genErr.Message)
}

func TestGenerateClips_CreditKeywordInFailureDetail(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())
	queue.failDetail["a"] = "monthly quota exceeded for this account"

	_, err := g.GenerateClips(context.Background(), []string{"a"}, "test-film", nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindCreditExhausted, genErr.Kind)
}

func TestGenerateClips_PollCeilingIsTimeout(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())
	g.MaxPollAttempts = 3
	queue.pollsUntil["a"] = 1000

	_, err := g.GenerateClips(context.Background(), []string{"a"}, "test-film", nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindTimeout, genErr.Kind)
	assert.Equal(t, 1, genErr.Shot)
	assert.Contains(t, genErr.Error(), "timed out")
}

func TestGenerateClips_StatusEndpointErrorIsTransport(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())
	queue.statusCode = http.StatusBadGateway

	_, err := g.GenerateClips(context.Background(), []string{"a"}, "test-film", nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindTransport, genErr.Kind)
	assert.Contains(t, genErr.Message, "502")
}

func TestGenerateClips_MissingVideoURLIsContractError(t *testing.T) {
	queue := newFakeQueue(t)
	g := newTestGenerator(queue, newFakeStore())
	queue.emptyResult = true

	_, err := g.GenerateClips(context.Background(), []string{"a"}, "test-film", nil)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrKindContract, genErr.Kind)
}

func TestGenerateClips_EmptyPrompts(t *testing.T) {
	g := NewGenerator("http://unused", "", newFakeStore())
	_, err := g.GenerateClips(context.Background(), nil, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no shot prompts")
}

func TestIsCreditError(t *testing.T) {
	assert.True(t, isCreditError("Insufficient Credits"))
	assert.True(t, isCreditError("your BALANCE is empty"))
	assert.True(t, isCreditError("account locked"))
	assert.False(t, isCreditError("internal server error"))
	assert.False(t, isCreditError(""))
}

func TestGenerationError_Error(t *testing.T) {
	assert.Equal(t, "shot 2 failed: boom",
		(&GenerationError{Kind: ErrKindService, Shot: 2, Message: "boom"}).Error())
	assert.Equal(t, "shot 4 timed out waiting for video generation",
		(&GenerationError{Kind: ErrKindTimeout, Shot: 4}).Error())
	assert.Equal(t, "no shot prompts to generate",
		(&GenerationError{Kind: ErrKindService, Message: "no shot prompts to generate"}).Error())
}
