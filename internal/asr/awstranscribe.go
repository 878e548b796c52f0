package asr

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	transcribe "github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	tstypes "github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/lecture-live/transcribe-core/internal/audio"
)

// awsTranscribeClient is the ProviderClient implementation wired to AWS
// Transcribe Streaming — the cloud ASR backend spec.md §1 calls "the
// provider". It carries no per-session state; OpenStream starts a fresh
// bidirectional event stream per call, exactly as the teacher's
// runTranscribeStream does, generalized into the ProviderClient interface.
type awsTranscribeClient struct {
	client *transcribe.Client
}

// NewAWSTranscribeClient wraps an already-configured AWS Transcribe
// Streaming client (built from PROVIDER_CREDENTIALS_PATH/PROVIDER_PROJECT_ID
// by internal/config) as a ProviderClient.
func NewAWSTranscribeClient(client *transcribe.Client) ProviderClient {
	return &awsTranscribeClient{client: client}
}

// OpenStream does not consume cfg.EnableInterim: AWS Transcribe Streaming's
// StartStreamTranscriptionInput has no request field to suppress partial
// results outright, only to stabilize them. enable_interim_results is
// instead enforced uniformly at the result.Handler layer, which works
// regardless of which ProviderClient is wired in.
func (c *awsTranscribeClient) OpenStream(ctx context.Context, cfg StreamConfig) (ProviderStream, error) {
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "ja-JP"
	}

	out, err := c.client.StartStreamTranscription(ctx, &transcribe.StartStreamTranscriptionInput{
		LanguageCode:         tstypes.LanguageCode(lang),
		MediaEncoding:        tstypes.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(audio.SampleRateHz),
		VocabularyName:       customVocabularyFor(cfg.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("asr: start stream transcription: %w", err)
	}

	return &awsTranscribeStream{stream: out.GetStream()}, nil
}

// customVocabularyFor maps the provider-generic "model" field of
// spec.md §6 onto an AWS custom vocabulary name. AWS Transcribe Streaming
// has no direct analogue of a named model beyond language code and custom
// vocabulary/language model selection, so the default model name
// ("latest_long") is treated as "use the base model" (no vocabulary).
func customVocabularyFor(model string) *string {
	if model == "" || model == "latest_long" {
		return nil
	}
	return aws.String(model)
}

// eventStream is the subset of *transcribestreaming.StartStreamTranscriptionEventStream
// that awsTranscribeStream drives. Declaring it narrows the surface this
// file depends on and keeps the ProviderStream adapter trivially testable.
type eventStream interface {
	Send(ctx context.Context, event tstypes.AudioStream) error
	Close() error
	Events() <-chan tstypes.TranscriptResultStream
	Err() error
}

// awsTranscribeStream adapts one AWS Transcribe bidirectional event stream
// to the ProviderStream interface. It is one ASR Epoch's connection to the
// provider.
type awsTranscribeStream struct {
	stream  eventStream
	pending []ProviderEvent
}

func (s *awsTranscribeStream) Send(ctx context.Context, pcm []byte) error {
	return s.stream.Send(ctx, &tstypes.AudioStreamMemberAudioEvent{
		Value: tstypes.AudioEvent{AudioChunk: pcm},
	})
}

func (s *awsTranscribeStream) CloseSend() error {
	return s.stream.Close()
}

func (s *awsTranscribeStream) Recv() ProviderEvent {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev
		}

		raw, ok := <-s.stream.Events()
		if !ok {
			if err := s.stream.Err(); err != nil {
				return ProviderEvent{Kind: EventError, Err: err}
			}
			return ProviderEvent{Kind: EventEnded}
		}

		s.pending = translateTranscriptResultStream(raw)
	}
}

// translateTranscriptResultStream flattens one provider response (which may
// carry several results, each with several alternatives) into the ordered
// sequence of ProviderEvents it represents. Non-transcript events (e.g.
// keep-alives) translate to no events.
func translateTranscriptResultStream(raw tstypes.TranscriptResultStream) []ProviderEvent {
	te, ok := raw.(*tstypes.TranscriptResultStreamMemberTranscriptEvent)
	if !ok || te.Value.Transcript == nil {
		return nil
	}

	var events []ProviderEvent
	for _, res := range te.Value.Transcript.Results {
		if len(res.Alternatives) == 0 || res.Alternatives[0].Transcript == nil {
			continue
		}
		kind := EventInterim
		if !res.IsPartial {
			kind = EventFinal
		}

		var resultID string
		if res.ResultId != nil {
			resultID = *res.ResultId
		}

		ts := time.Now()
		if res.EndTime != 0 {
			ts = time.UnixMilli(int64(res.EndTime * 1000))
		}

		events = append(events, ProviderEvent{
			Kind:      kind,
			Text:      *res.Alternatives[0].Transcript,
			ResultID:  resultID,
			Timestamp: ts,
		})
	}
	return events
}
