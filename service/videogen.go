package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Generation job states reported by the queue service.
const (
	JobStatusInQueue    = "IN_QUEUE"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// GenerationErrorKind classifies a batch failure so callers branch on the
// classification instead of string-matching error messages.
type GenerationErrorKind string

const (
	ErrKindService         GenerationErrorKind = "service"
	ErrKindTransport       GenerationErrorKind = "transport"
	ErrKindTimeout         GenerationErrorKind = "timeout"
	ErrKindContract        GenerationErrorKind = "contract"
	ErrKindCreditExhausted GenerationErrorKind = "credit_exhausted"
)

// GenerationError is the aggregate failure for a batch. Shot is 1-indexed;
// 0 means the failure is not tied to a particular shot.
type GenerationError struct {
	Kind    GenerationErrorKind
	Shot    int
	Message string
}

func (e *GenerationError) Error() string {
	switch {
	case e.Shot > 0 && e.Kind == ErrKindTimeout:
		return fmt.Sprintf("shot %d timed out waiting for video generation", e.Shot)
	case e.Shot > 0:
		return fmt.Sprintf("shot %d failed: %s", e.Shot, e.Message)
	default:
		return e.Message
	}
}

// Credit/quota detection is a keyword heuristic over the service's error
// text; there is no structured error code to rely on. Matches are surfaced
// verbatim so the user knows it is an operator-side problem.
var creditKeywords = []string{"credit", "quota", "insufficient", "balance", "exhausted", "locked"}

func isCreditError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range creditKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Fixed safety and quality parameters for every submission.
var conservativeNegativePrompt = strings.Join([]string{
	"human face", "full body", "people", "person", "animals",
	"romance", "intimacy", "dancing", "alcohol", "nudity",
	"sexual content", "violence", "gore", "horror", "dating",
	"flirting", "suggestive", "jitter", "bad hands", "blur", "distortion",
}, ", ")

var conservativeAudioNegativePrompt = strings.Join([]string{
	"romantic voice", "seductive voice", "female voice", "whispering",
	"soft intimate tone", "robotic", "muffled", "echo", "distorted",
}, ", ")

const (
	numInferenceSteps = 30
	outputResolution  = "992x512"

	defaultPollInterval = 5 * time.Second
	// 360 polls at 5s is 30 minutes, enough headroom for a batch of several
	// shots queued at once.
	defaultMaxPollAttempts = 360
)

type submitRequest struct {
	Prompt              string `json:"prompt"`
	NegativePrompt      string `json:"negative_prompt"`
	NumInferenceSteps   int    `json:"num_inference_steps"`
	AudioNegativePrompt string `json:"audio_negative_prompt"`
	Resolution          string `json:"resolution"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status      string `json:"status"`
	ResponseURL string `json:"response_url"`
	Error       string `json:"error"`
}

type resultResponse struct {
	Video struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		FileName    string `json:"file_name"`
		FileSize    int64  `json:"file_size"`
	} `json:"video"`
	Seed  json.Number `json:"seed"`
	Error string      `json:"error"`
}

// Generator runs per-shot text-to-video jobs against a queue-style service
// and transfers the finished clips into durable storage. Construct once per
// process and reuse.
type Generator struct {
	BaseURL         string
	APIKey          string
	HTTPClient      *http.Client
	Store           ObjectStore
	PollInterval    time.Duration
	MaxPollAttempts int
}

func NewGenerator(baseURL, apiKey string, store ObjectStore) *Generator {
	return &Generator{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		APIKey:          apiKey,
		HTTPClient:      &http.Client{},
		Store:           store,
		PollInterval:    defaultPollInterval,
		MaxPollAttempts: defaultMaxPollAttempts,
	}
}

// GenerateClips submits every prompt at once, polls each job to completion,
// transfers the clips to storage, and returns durable URLs in the original
// prompt order regardless of completion order. Any single shot's permanent
// failure fails the whole batch; there is no partial result. progress may be
// nil; when set it receives (completedShots, totalShots).
func (g *Generator) GenerateClips(ctx context.Context, prompts []string, slug string, progress func(done, total int)) ([]string, error) {
	if len(prompts) == 0 {
		return nil, &GenerationError{Kind: ErrKindService, Message: "no shot prompts to generate"}
	}

	// Results are keyed by shot index, so the output list keeps input order
	// no matter how the concurrent jobs interleave.
	results := make([]string, len(prompts))
	var mu sync.Mutex
	done := 0

	grp, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		grp.Go(func() error {
			url, err := g.generateOne(gctx, i, prompt, slug)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = url
			done++
			if progress != nil {
				progress(done, len(prompts))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Generator) generateOne(ctx context.Context, index int, prompt, slug string) (string, error) {
	shot := index + 1

	requestID, err := g.submit(ctx, shot, prompt)
	if err != nil {
		return "", err
	}
	log.Info().Int("shot", shot).Str("request_id", requestID).Msg("generation job submitted")

	responseURL, err := g.poll(ctx, shot, requestID)
	if err != nil {
		return "", err
	}

	clipURL, err := g.fetchResult(ctx, shot, requestID, responseURL)
	if err != nil {
		return "", err
	}

	return g.transfer(ctx, shot, requestID, clipURL, slug)
}

func (g *Generator) submit(ctx context.Context, shot int, prompt string) (string, error) {
	body, err := json.Marshal(submitRequest{
		Prompt:              prompt,
		NegativePrompt:      conservativeNegativePrompt,
		NumInferenceSteps:   numInferenceSteps,
		AudioNegativePrompt: conservativeAudioNegativePrompt,
		Resolution:          outputResolution,
	})
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: err.Error()}
	}

	resp, err := g.do(ctx, http.MethodPost, g.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = fmt.Sprintf("submission rejected with status %d", resp.StatusCode)
		}
		if isCreditError(msg) {
			return "", &GenerationError{Kind: ErrKindCreditExhausted, Shot: shot, Message: msg}
		}
		return "", &GenerationError{Kind: ErrKindService, Shot: shot, Message: msg}
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: "decode submission response failed: " + err.Error()}
	}
	if out.RequestID == "" {
		return "", &GenerationError{Kind: ErrKindContract, Shot: shot, Message: "submission response missing request_id"}
	}
	return out.RequestID, nil
}

// poll checks job status on a fixed interval up to the attempt ceiling.
// Exhausting the ceiling is a timeout, distinct from a service-reported
// failure: the job may still finish out-of-band but its result is lost.
func (g *Generator) poll(ctx context.Context, shot int, requestID string) (string, error) {
	statusURL := fmt.Sprintf("%s/requests/%s/status", g.BaseURL, requestID)

	for attempt := 0; attempt < g.MaxPollAttempts; attempt++ {
		resp, err := g.do(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: err.Error()}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: fmt.Sprintf("status check failed with status %d", resp.StatusCode)}
		}
		var status statusResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: "decode status response failed: " + decodeErr.Error()}
		}

		switch status.Status {
		case JobStatusCompleted:
			return status.ResponseURL, nil
		case JobStatusFailed:
			return "", g.classifyFailure(ctx, shot, requestID, status)
		case JobStatusInQueue, JobStatusInProgress:
			// keep polling
		default:
			return "", &GenerationError{Kind: ErrKindContract, Shot: shot, Message: "unknown job status: " + status.Status}
		}

		select {
		case <-ctx.Done():
			return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: ctx.Err().Error()}
		case <-time.After(g.PollInterval):
		}
	}
	return "", &GenerationError{Kind: ErrKindTimeout, Shot: shot}
}

// classifyFailure fetches the failed job's detail and scans it for
// credit/quota keywords before falling back to a generic service failure.
func (g *Generator) classifyFailure(ctx context.Context, shot int, requestID string, status statusResponse) error {
	detail := status.Error
	if detail == "" {
		detailURL := status.ResponseURL
		if detailURL == "" {
			detailURL = fmt.Sprintf("%s/requests/%s", g.BaseURL, requestID)
		}
		if resp, err := g.do(ctx, http.MethodGet, detailURL, nil); err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			detail = strings.TrimSpace(string(body))
		}
	}
	if detail == "" {
		detail = "video generation failed"
	}
	if isCreditError(detail) {
		return &GenerationError{Kind: ErrKindCreditExhausted, Shot: shot, Message: detail}
	}
	return &GenerationError{Kind: ErrKindService, Shot: shot, Message: detail}
}

func (g *Generator) fetchResult(ctx context.Context, shot int, requestID, responseURL string) (string, error) {
	if responseURL == "" {
		responseURL = fmt.Sprintf("%s/requests/%s", g.BaseURL, requestID)
	}
	resp, err := g.do(ctx, http.MethodGet, responseURL, nil)
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: err.Error()}
	}
	defer resp.Body.Close()

	var result resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: "decode result response failed: " + err.Error()}
	}
	if result.Video.URL == "" {
		// Completed status without a clip URL breaks the service contract.
		return "", &GenerationError{Kind: ErrKindContract, Shot: shot, Message: "job completed but no video URL returned"}
	}
	return result.Video.URL, nil
}

// transfer downloads the clip from the service-provided URL and re-uploads
// it into durable storage. The filename combines request id and shot index
// so concurrent batches never collide and ordering stays reconstructible.
func (g *Generator) transfer(ctx context.Context, shot int, requestID, clipURL, slug string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clipURL, nil)
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: err.Error()}
	}
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: "download clip failed: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: fmt.Sprintf("download clip status %d", resp.StatusCode)}
	}

	objectName := fmt.Sprintf("videos/%s_shot%d.mp4", requestID, shot)
	if slug != "" {
		objectName = fmt.Sprintf("videos/%s/%s_shot%d.mp4", slug, requestID, shot)
	}
	url, err := g.Store.Upload(ctx, resp.Body, objectName, resp.ContentLength)
	if err != nil {
		return "", &GenerationError{Kind: ErrKindTransport, Shot: shot, Message: "store clip failed: " + err.Error()}
	}
	log.Info().Int("shot", shot).Str("object", objectName).Msg("clip stored")
	return url, nil
}

func (g *Generator) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Key "+g.APIKey)
	}
	return g.HTTPClient.Do(req)
}
