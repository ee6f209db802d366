package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

type HTTPConfig struct {
	Endpoint  string
	Timeout   time.Duration
	RateLimit float64 // requests per second, shared by every caller of this scorer
	Burst     int
}

type scoreRequest struct {
	JobID    string          `json:"job_id"`
	CallID   int64           `json:"call_id"`
	Modality models.Modality `json:"modality"`
	Payload  []byte          `json:"payload"`
}

type scoreResponse struct {
	IsPositive   bool     `json:"is_positive"`
	Confidence   float64  `json:"confidence"`
	RiskLevel    string   `json:"risk_level"`
	ModelVersion string   `json:"model_version"`
	Details      string   `json:"details"`
	Keywords     []string `json:"keywords"`
}

// HTTPScorer posts fragments to the model service at {endpoint}/{modality}.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewHTTPScorer(cfg HTTPConfig) *HTTPScorer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &HTTPScorer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 16, IdleConnTimeout: 90 * time.Second},
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

func (s *HTTPScorer) Score(ctx context.Context, job models.InferenceJob) (models.RawVerdict, error) {
	const op = "HTTPScorer.Score"

	if err := s.limiter.Wait(ctx); err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeUnavailable, op, "rate limiter wait", err)
	}

	body, err := json.Marshal(scoreRequest{
		JobID: job.JobID, CallID: job.CallID, Modality: job.Modality, Payload: job.Payload,
	})
	if err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeInternal, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/"+string(job.Modality), bytes.NewReader(body))
	if err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeUnavailable, op, "model service unreachable", err)
	}
	defer resp.Body.Close()

	const maxBytes = 1 << 20
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if resp.StatusCode != http.StatusOK {
		return models.RawVerdict{}, utils.E(utils.CodeUnavailable, op,
			fmt.Sprintf("model service returned %d", resp.StatusCode), nil)
	}

	var out scoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeInternal, op, "decode response", err)
	}

	v := models.RawVerdict{
		CallID:       job.CallID,
		Modality:     job.Modality,
		IsPositive:   out.IsPositive,
		Confidence:   out.Confidence,
		RiskLevel:    models.RiskLevel(out.RiskLevel),
		ModelVersion: out.ModelVersion,
		Keywords:     out.Keywords,
		Details:      out.Details,
		ScoredAt:     time.Now().UTC(),
	}
	v.Normalize()
	return v, nil
}

func (s *HTTPScorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
