// Package voice provides the voice recommendation client and the candidate
// voice model shared by the conversation layer.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/observability"
)

// Recommender asks the voice service for candidate voices for a script.
type Recommender struct {
	baseURL    string
	perGender  int
	httpClient *http.Client
}

// NewRecommender creates a recommendation client from config.
func NewRecommender(cfg *config.Config) *Recommender {
	return &Recommender{
		baseURL:   cfg.VoiceServiceURL,
		perGender: cfg.VoicesPerGender,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RecommendTimeout) * time.Second,
		},
	}
}

type recommendRequest struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

type recommendResponse struct {
	Success      bool     `json:"success"`
	MaleVoices   []string `json:"male_voices"`
	FemaleVoices []string `json:"female_voices"`
}

// Recommend returns up to the configured number of candidate voices per
// gender category for the given script text.
func (r *Recommender) Recommend(ctx context.Context, text string) (*Recommendation, error) {
	start := time.Now()

	body, err := json.Marshal(recommendRequest{Text: text, Count: r.perGender})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recommend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/recommend_voice_styles", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create recommend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		observability.RecordRecommendRequest(start, false)
		observability.RecordError("recommend_request", "voice")
		return nil, fmt.Errorf("voice recommendation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.RecordRecommendRequest(start, false)
		return nil, fmt.Errorf("voice recommendation failed: status %d", resp.StatusCode)
	}

	var rr recommendResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		observability.RecordRecommendRequest(start, false)
		return nil, fmt.Errorf("failed to decode recommend response: %w", err)
	}

	if !rr.Success {
		observability.RecordRecommendRequest(start, false)
		return nil, fmt.Errorf("voice recommendation failed: service reported no success")
	}

	rec := &Recommendation{Text: text}
	for _, label := range capped(rr.MaleVoices, r.perGender) {
		rec.Male = append(rec.Male, NewOption(GenderMale, label))
	}
	for _, label := range capped(rr.FemaleVoices, r.perGender) {
		rec.Female = append(rec.Female, NewOption(GenderFemale, label))
	}

	observability.RecordRecommendRequest(start, true)
	return rec, nil
}

// VoiceTypes returns the full voice catalog keyed by gender category.
func (r *Recommender) VoiceTypes(ctx context.Context) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/voice_types", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice types request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voice types: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to fetch voice types: status %d: %s", resp.StatusCode, body)
	}

	// The service wraps the catalog in a voice_types field; older revisions
	// return the bare map.
	var wrapped struct {
		VoiceTypes map[string][]string `json:"voice_types"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice types response: %w", err)
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.VoiceTypes != nil {
		return wrapped.VoiceTypes, nil
	}

	var bare map[string][]string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("failed to decode voice types response: %w", err)
	}
	return bare, nil
}

// HealthCheck probes the voice service catalog endpoint.
func (r *Recommender) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := r.VoiceTypes(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func capped(labels []string, n int) []string {
	if n > 0 && len(labels) > n {
		return labels[:n]
	}
	return labels
}
