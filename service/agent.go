package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConceptValidation is the structured verdict of the concept validator stage.
type ConceptValidation struct {
	IsSafe      bool     `json:"is_safe"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// PlanShotsRequest carries the script plus the user's presentation settings
// to the shot planner.
type PlanShotsRequest struct {
	Script              string `json:"script"`
	PreferredSoundStyle string `json:"preferred_sound_style"`
	TargetPlatform      string `json:"target_platform"`
}

// AgentClient talks to the film-maker agent service. Construct once per
// process and reuse across requests.
type AgentClient struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

func NewAgentClient(baseURL, accessToken string) *AgentClient {
	return &AgentClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *AgentClient) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.AccessToken)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	return resp, nil
}

// postText posts the payload and returns the raw response body as text. The
// text stages return prose whose content is classified by the caller, so a
// non-2xx status is only an error at the transport level.
func (a *AgentClient) postText(ctx context.Context, path string, payload interface{}) (string, error) {
	resp, err := a.post(ctx, path, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read agent response failed: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("agent responded with status %d", resp.StatusCode)
	}
	return string(body), nil
}

func (a *AgentClient) ValidateConcept(ctx context.Context, concept string) (*ConceptValidation, error) {
	resp, err := a.post(ctx, "/api/validate-concept", map[string]string{"concept": concept})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent responded with status %d", resp.StatusCode)
	}
	var out ConceptValidation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode validation response failed: %w", err)
	}
	return &out, nil
}

func (a *AgentClient) GenerateScript(ctx context.Context, concept string) (string, error) {
	return a.postText(ctx, "/api/generate-micro-film-script", map[string]string{"concept": concept})
}

func (a *AgentClient) ValidateScript(ctx context.Context, script string) (string, error) {
	return a.postText(ctx, "/api/validate-script", map[string]string{"script": script})
}

func (a *AgentClient) PlanShots(ctx context.Context, req PlanShotsRequest) (string, error) {
	return a.postText(ctx, "/api/plan-shots", req)
}

// RandomConcepts forwards the payload untouched; the response shape belongs
// to the agent.
func (a *AgentClient) RandomConcepts(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	resp, err := a.post(ctx, "/api/random-concept-generator", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read agent response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent responded with status %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

// Soft-fail keywords. The agent reports guideline problems as prose, not as
// HTTP errors, so callers scan the text and route matches back to the user
// as guidance instead of failing the pipeline.
var softFailKeywords = []string{"violation", "issue", "not allowed", "suggestion"}

func IsSoftValidationFailure(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range softFailKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
