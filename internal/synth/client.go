// Package synth hides the voice service's asynchronous job model behind a
// single awaitable call: submit a synthesis request, then poll its status URL
// until the job completes or fails.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/observability"
	"github.com/moshengai/dubbing-gateway/internal/resilience"
)

// Client performs synthesis operations against the voice service.
type Client struct {
	baseURL        string
	publicBase     string
	pollInterval   time.Duration
	pollMaxAttempt int
	httpClient     *http.Client
	breaker        *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewClient creates a synthesis client from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.VoiceServiceURL, "/"),
		publicBase:     cfg.PublicBaseURL(),
		pollInterval:   time.Duration(cfg.PollInterval) * time.Millisecond,
		pollMaxAttempt: cfg.PollMaxAttempts,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.SubmitTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker("voice-service",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.GetLogger().With().Str("component", "synth").Logger(),
	}
}

type submitResponse struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

type statusResponse struct {
	Status string  `json:"status"`
	Result *Result `json:"result"`
	Error  string  `json:"error"`
}

// SubmitAndWait submits one synthesis or confirmation job and blocks until it
// reaches a terminal state, the poll budget runs out, or ctx is cancelled.
// Result locators are normalized to absolute client-usable URLs.
//
// A terminal failure is returned as *SynthesisFailedError and is never
// retried here; resubmission is the caller's decision.
func (c *Client) SubmitAndWait(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	job, err := c.submit(ctx, req)
	if err != nil {
		observability.RecordSynthesisJob(string(req.Mode), start, "rejected")
		return nil, err
	}

	c.logger.Debug().Str("job_id", job.ID).Str("mode", string(req.Mode)).
		Str("voice", req.VoiceLabel).Msg("synthesis job accepted")

	result, err := c.wait(ctx, job)
	if err != nil {
		observability.RecordSynthesisJob(string(req.Mode), start, "failed")
		return nil, err
	}

	observability.RecordSynthesisJob(string(req.Mode), start, "completed")
	return result, nil
}

// submit posts the job and expects a 202 with a task handle. The call is
// guarded by the voice-service circuit breaker and retried on transient
// network errors; a non-202 acceptance is a rejection, not retried.
func (c *Client) submit(ctx context.Context, req Request) (*Job, error) {
	endpoint := c.baseURL + "/synthesize"
	if req.Mode == ModeFinal {
		endpoint = c.baseURL + "/confirm_script"
	}

	form := url.Values{}
	form.Set("text", req.Text)
	form.Set("gender", req.Gender)
	form.Set("voice_label", req.VoiceLabel)

	var job *Job
	err := c.breaker.Call(func() error {
		return resilience.Retry(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
				endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("failed to create submit request: %w", err)
			}
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			httpReq.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return fmt.Errorf("synthesis submit failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return &SubmissionRejectedError{Status: resp.StatusCode, Body: string(body)}
			}

			var sr submitResponse
			if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
				return fmt.Errorf("failed to decode submit response: %w", err)
			}
			if sr.TaskID == "" || sr.StatusURL == "" {
				return &SubmissionRejectedError{
					Status: resp.StatusCode,
					Body:   "response missing task_id or status_url",
				}
			}

			job = &Job{ID: sr.TaskID, StatusURL: sr.StatusURL, State: JobSubmitted}
			return nil
		}, c.retryConfig, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState("voice-service", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("voice-service")
		return nil, err
	}

	return job, nil
}

// wait polls the job's status URL at a fixed interval until a terminal
// status. One outstanding poll per job; independent jobs never share state.
func (c *Client) wait(ctx context.Context, job *Job) (*Result, error) {
	pollURL := c.pollURL(job.StatusURL)

	for attempt := 1; attempt <= c.pollMaxAttempt; attempt++ {
		status, err := c.pollOnce(ctx, pollURL)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed":
			if status.Result == nil {
				return nil, &SynthesisFailedError{JobID: job.ID, Reason: "completed without result payload"}
			}
			job.State = JobCompleted
			normalizeResult(status.Result, c.publicBase)
			job.Result = status.Result
			return status.Result, nil

		case "failed":
			job.State = JobFailed
			reason := status.Error
			if reason == "" {
				reason = "synthesis task failed"
			}
			job.Err = reason
			return nil, &SynthesisFailedError{JobID: job.ID, Reason: reason}

		default:
			// pending or processing: wait out the interval, then poll again
			job.State = JobProcessing
			if attempt == c.pollMaxAttempt {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
	}

	return nil, &PollLimitError{JobID: job.ID, Attempts: c.pollMaxAttempt}
}

func (c *Client) pollOnce(ctx context.Context, pollURL string) (*statusResponse, error) {
	observability.RecordPollTick()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status poll failed: status %d", resp.StatusCode)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &sr, nil
}

// pollURL resolves the service-returned status locator against the service
// base. Absolute status URLs are reduced to their path first so polling stays
// on the address we were configured with.
func (c *Client) pollURL(statusURL string) string {
	if strings.HasPrefix(statusURL, "http://") || strings.HasPrefix(statusURL, "https://") {
		if u, err := url.Parse(statusURL); err == nil {
			statusURL = u.Path + query(u)
		}
	}
	if !strings.HasPrefix(statusURL, "/") {
		statusURL = "/" + statusURL
	}
	return c.baseURL + statusURL
}

// HealthCheck reports whether the breaker currently admits requests.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if c.breaker.GetState() == resilience.StateOpen {
		return false, fmt.Errorf("voice service circuit breaker is open")
	}
	return true, nil
}
