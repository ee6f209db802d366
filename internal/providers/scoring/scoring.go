// Package scoring turns an inference job into a RawVerdict. The heavy lifting
// happens in external models; this package adapts their replies.
package scoring

import (
	"context"

	"github.com/yoockh/callguard/internal/models"
)

type Scorer interface {
	Score(ctx context.Context, job models.InferenceJob) (models.RawVerdict, error)
	Close() error
}

// Factory builds a fresh Scorer. Workers call it again after recycling.
type Factory func() (Scorer, error)
