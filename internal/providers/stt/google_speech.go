package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
	// Hints biases recognition toward scam vocabulary ("safe account",
	// "verification code") that generic phone models often mishear.
	Hints []string
}

// NewGoogleSpeech expects 16-bit linear PCM call audio.
func NewGoogleSpeech(ctx context.Context, sampleRateHz int) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz: int32(sampleRateHz),
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// Transcribe returns the whole fragment as one transcript: a fragment often
// holds several utterances and a keyword can sit in any of them. Confidence is
// the mean over the utterances that carried one.
// language is a BCP-47 code such as "zh-CN".
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	if len(audio) == 0 {
		return "", 0, nil
	}
	if language == "" {
		language = DefaultLanguage
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   g.Encoding,
		SampleRateHertz:            g.SampleRateHz,
		AudioChannelCount:          1,
		LanguageCode:               language,
		MaxAlternatives:            1,
		EnableAutomaticPunctuation: true,
		Model:                      "phone_call",
		UseEnhanced:                true,
	}
	if len(g.Hints) > 0 {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: g.Hints, Boost: 10}}
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	})
	if err != nil {
		return "", 0, err
	}
	text, conf := joinUtterances(resp.Results)
	return text, conf, nil
}

func joinUtterances(results []*speechpb.SpeechRecognitionResult) (string, float64) {
	var (
		parts []string
		sum   float64
		n     int
	)
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		top := r.Alternatives[0]
		t := strings.TrimSpace(top.GetTranscript())
		if t == "" {
			continue
		}
		parts = append(parts, t)
		// zero means the service did not score this utterance
		if c := top.GetConfidence(); c > 0 {
			sum += float64(c)
			n++
		}
	}
	if n == 0 {
		return strings.Join(parts, " "), 0
	}
	return strings.Join(parts, " "), sum / float64(n)
}
