package handler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/handler"
)

var errTransientResolve = errors.New("disk hiccup reading reference")

type fakeResolver struct {
	calls atomic.Int64
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ []byte) (*core.ResolvedVoice, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, f.err
	}

	return &core.ResolvedVoice{
		Samples:    make([]float64, 24000),
		SampleRate: 24000,
		Source:     core.VoiceSourceBakedDefault,
	}, nil
}

type fakeSynthesizer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSynthesizer) Run(
	_ context.Context,
	_ string,
	_ *core.ResolvedVoice,
	_ core.GenerationParams,
) (*core.Waveform, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, f.err
	}

	return &core.Waveform{
		Samples:    make([]float64, 48000),
		SampleRate: 24000,
	}, nil
}

type fakeEncoder struct {
	err error
}

func (f *fakeEncoder) Encode(
	_ context.Context,
	_ *core.Waveform,
	_ core.OutputFormat,
) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	return []byte("encoded-audio"), nil
}

type pipeline struct {
	resolver    *fakeResolver
	synthesizer *fakeSynthesizer
	encoder     *fakeEncoder
	handler     *handler.Handler
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	p := &pipeline{
		resolver:    &fakeResolver{},
		synthesizer: &fakeSynthesizer{},
		encoder:     &fakeEncoder{},
		handler:     nil,
	}
	p.handler = handler.New(p.resolver, p.synthesizer, p.encoder, 100, testLogger)

	return p
}

func validRequest() core.JobRequest {
	return core.JobRequest{
		JobID:        "job-1",
		Text:         "Hello, world.",
		VoiceRef:     nil,
		OutputFormat: core.FormatWAV,
		Params:       core.DefaultGenerationParams(),
	}
}

func TestHandle_Success(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)

	result := p.handler.Handle(context.Background(), validRequest())

	assert.Equal(t, core.StatusSuccess, result.Status)
	assert.Empty(t, result.ErrorKind)
	assert.Equal(t, []byte("encoded-audio"), result.Audio)
	assert.Equal(t, core.FormatWAV, result.Metadata.Format)
	assert.InEpsilon(t, 2.0, result.Metadata.DurationSeconds, 0.001)
	assert.Equal(t, 24000, result.Metadata.SampleRate)
	assert.Equal(t, len("encoded-audio"), result.Metadata.SizeBytes)
}

func TestHandle_ValidationFailuresNeverReachSynthesis(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*core.JobRequest)
	}{
		{
			name:   "empty text",
			mutate: func(r *core.JobRequest) { r.Text = "   \t " },
		},
		{
			name:   "over-length text",
			mutate: func(r *core.JobRequest) { r.Text = strings.Repeat("a", 101) },
		},
		{
			name:   "unknown format",
			mutate: func(r *core.JobRequest) { r.OutputFormat = core.OutputFormat("ogg") },
		},
		{
			name:   "invalid utf8",
			mutate: func(r *core.JobRequest) { r.Text = string([]byte{0xff, 0xfe}) },
		},
		{
			name:   "temperature out of range",
			mutate: func(r *core.JobRequest) { r.Params.Temperature = 3.0 },
		},
		{
			name:   "cfg weight out of range",
			mutate: func(r *core.JobRequest) { r.Params.CFGWeight = 1.5 },
		},
		{
			name:   "speed out of range",
			mutate: func(r *core.JobRequest) { r.Params.Speed = 0.1 },
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			p := newTestPipeline(t)
			req := validRequest()
			testCase.mutate(&req)

			result := p.handler.Handle(context.Background(), req)

			assert.Equal(t, core.StatusError, result.Status)
			assert.Equal(t, core.CodeInvalidInput, result.ErrorKind)
			assert.NotEmpty(t, result.ErrorDetail)
			assert.Equal(t, int64(0), p.resolver.calls.Load())
			assert.Equal(t, int64(0), p.synthesizer.calls.Load())
		})
	}
}

func TestHandle_ZeroSpeedIsAccepted(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	req := validRequest()
	req.Params.Speed = 0

	result := p.handler.Handle(context.Background(), req)

	assert.Equal(t, core.StatusSuccess, result.Status)
}

func TestHandle_VoiceResolutionFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	p.resolver.err = fmt.Errorf("%w: reference undecodable", core.ErrVoiceResolutionFailed)

	result := p.handler.Handle(context.Background(), validRequest())

	assert.Equal(t, core.StatusError, result.Status)
	assert.Equal(t, core.CodeVoiceResolutionFailed, result.ErrorKind)
	assert.Equal(t, int64(1), p.resolver.calls.Load())
	assert.Equal(t, int64(0), p.synthesizer.calls.Load())
}

func TestHandle_TransientResolveErrorIsRetriedOnce(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	p.resolver.err = errTransientResolve

	result := p.handler.Handle(context.Background(), validRequest())

	assert.Equal(t, core.StatusError, result.Status)
	assert.Equal(t, int64(2), p.resolver.calls.Load())
}

func TestHandle_MapsSynthesisFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantKind string
	}{
		{
			name:     "gpu exhaustion",
			err:      fmt.Errorf("synthesis failed: %w", core.ErrOutOfMemory),
			wantKind: core.CodeOutOfMemory,
		},
		{
			name:     "overloaded",
			err:      fmt.Errorf("queue full: %w", core.ErrOverloaded),
			wantKind: core.CodeOverloaded,
		},
		{
			name:     "timeout while waiting",
			err:      fmt.Errorf("gave up: %w", core.ErrSynthesisTimeout),
			wantKind: core.CodeSynthesisTimeout,
		},
		{
			name:     "model never loaded",
			err:      fmt.Errorf("no handle: %w", core.ErrModelUnavailable),
			wantKind: core.CodeModelUnavailable,
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			p := newTestPipeline(t)
			p.synthesizer.err = testCase.err

			result := p.handler.Handle(context.Background(), validRequest())

			assert.Equal(t, core.StatusError, result.Status)
			assert.Equal(t, testCase.wantKind, result.ErrorKind)
			assert.Nil(t, result.Audio)
		})
	}
}

func TestHandle_EncodingFailureIsOpaque(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t)
	p.encoder.err = fmt.Errorf("%w: ffmpeg exited 1: secret codec detail", core.ErrEncodingFailed)

	result := p.handler.Handle(context.Background(), validRequest())

	assert.Equal(t, core.StatusError, result.Status)
	assert.Equal(t, core.CodeInternalError, result.ErrorKind)
	assert.Equal(t, "internal error", result.ErrorDetail)
	assert.NotContains(t, result.ErrorDetail, "ffmpeg")
}
