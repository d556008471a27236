package jobrunner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPRunnerTimeout = 5 * time.Second

type triggerRequest struct {
	Task    string    `json:"task"`
	Payload any       `json:"payload"`
	RunAt   time.Time `json:"runAt"`
}

type triggerResponse struct {
	ID string `json:"id"`
}

// HTTPRunner talks to a managed delayed-task service:
// POST {base}/v1/jobs and DELETE {base}/v1/jobs/{id}.
type HTTPRunner struct {
	client  *resty.Client
	baseURL string
	now     func() time.Time
}

func NewHTTPRunner(baseURL, apiKey string, timeout time.Duration) (*HTTPRunner, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultHTTPRunnerTimeout
	}
	client.SetTimeout(timeout)
	if key := strings.TrimSpace(apiKey); key != "" {
		client.SetAuthToken(key)
	}

	return NewHTTPRunnerWithClient(baseURL, client)
}

func NewHTTPRunnerWithClient(baseURL string, client *resty.Client) (*HTTPRunner, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("job runner url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid job runner url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPRunnerTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPRunner{
		client:  client,
		baseURL: trimmed,
		now:     time.Now,
	}, nil
}

func (r *HTTPRunner) Trigger(ctx context.Context, task string, payload any, opts TriggerOptions) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task is required")
	}
	runAt, err := opts.ResolveRunAt(r.now())
	if err != nil {
		return "", err
	}

	var out triggerResponse
	response, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(triggerRequest{Task: task, Payload: payload, RunAt: runAt}).
		SetResult(&out).
		Post(r.baseURL + "/v1/jobs")
	if err != nil {
		return "", fmt.Errorf("job runner trigger failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK && response.StatusCode() != http.StatusCreated && response.StatusCode() != http.StatusAccepted {
		return "", fmt.Errorf("job runner trigger returned status %d: %s",
			response.StatusCode(), strings.TrimSpace(response.String()))
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("job runner trigger returned no job id")
	}

	return out.ID, nil
}

func (r *HTTPRunner) Cancel(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return fmt.Errorf("handle is required")
	}

	response, err := r.client.R().
		SetContext(ctx).
		SetPathParam("id", handle).
		Delete(r.baseURL + "/v1/jobs/{id}")
	if err != nil {
		return fmt.Errorf("job runner cancel failed: %w", err)
	}

	switch response.StatusCode() {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrJobNotFound
	default:
		return fmt.Errorf("job runner cancel returned status %d: %s",
			response.StatusCode(), strings.TrimSpace(response.String()))
	}
}
