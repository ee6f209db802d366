package stt

import "context"

// DefaultLanguage is used when a caller passes an empty language code.
const DefaultLanguage = "zh-CN"

// Transcriber turns a call audio fragment into text for keyword rule matching.
// An empty fragment yields an empty transcript and no error.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}
