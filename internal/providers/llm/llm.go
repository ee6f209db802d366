package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yoockh/callguard/internal/models"
)

// Classification is a model's opinion of one text fragment.
type Classification struct {
	IsScam     bool             `json:"is_scam"`
	Confidence float64          `json:"confidence"`
	RiskLevel  models.RiskLevel `json:"risk_level"`
	Reason     string           `json:"reason"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
	ModelVersion() string
	Close() error
}

var errNoJSON = errors.New("model reply contains no JSON object")

// parseClassification pulls the first JSON object out of a model reply,
// tolerating markdown fences and prose around it.
func parseClassification(reply string) (Classification, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Classification{}, errNoJSON
	}

	var c Classification
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return Classification{}, err
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	if !c.RiskLevel.Valid() {
		c.RiskLevel = models.RiskFromConfidence(c.IsScam, c.Confidence)
	}
	return c, nil
}
