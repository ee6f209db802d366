package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

const classifyPrompt = `You screen live phone-call transcripts for fraud (impersonation, fake police or bank staff, transfer requests, verification codes, investment bait).
Reply with one JSON object and nothing else:
{"is_scam": bool, "confidence": number between 0 and 1, "risk_level": "safe"|"low"|"medium"|"high"|"critical", "reason": short string}

Transcript:
`

type VertexGemini struct {
	client    *vertexgenai.Client
	model     *vertexgenai.GenerativeModel
	modelName string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	return &VertexGemini{client: c, model: m, modelName: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) ModelVersion() string { return v.modelName }

func (v *VertexGemini) Classify(ctx context.Context, text string) (Classification, error) {
	reply, err := v.collect(ctx, classifyPrompt+text)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(reply)
}

// collect streams the reply and joins the text parts.
func (v *VertexGemini) collect(ctx context.Context, prompt string) (string, error) {
	var sb strings.Builder

	it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					sb.WriteString(string(t))
				}
			}
		}
	}
}
