// Package model owns the TTS model lifecycle: loading it exactly once per
// process and exposing its synthesis capability. The model itself runs in a
// localhost sidecar and is treated as an opaque inference function behind an
// HTTP contract.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
)

// Sidecar API endpoints.
const (
	apiModelLoad      = "/v1/model/load"
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Machine-readable error codes the sidecar reports on failures.
const (
	engineCodeCUDAOOM        = "CUDA_OOM"
	engineCodeOOM            = "OOM"
	engineCodeModelNotLoaded = "MODEL_NOT_LOADED"
	engineCodeInvalidParams  = "INVALID_PARAMETERS"
)

// Static errors.
var (
	ErrEmptyAudioResponse = errors.New("sidecar returned empty audio data")
	ErrUnexpectedContent  = errors.New("sidecar returned unexpected content type")
)

// loadRequest asks the sidecar to make the model resident on a device.
type loadRequest struct {
	Device string `json:"device"`
}

// loadResponse reports the loaded model's native output sample rate.
type loadResponse struct {
	SampleRate int `json:"sample_rate"`
}

// synthesisRequest is the per-job inference payload. The speaker reference
// is passed by path because the sidecar shares the worker host.
type synthesisRequest struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Temperature    float64 `json:"temperature"`
	Exaggeration   float64 `json:"exaggeration"`
	CFGWeight      float64 `json:"cfg_weight"`
	Speed          float64 `json:"speed"`
	Seed           int     `json:"seed"`
}

// engineErrorResponse is the sidecar's structured error body.
type engineErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// SidecarEngine implements core.SynthesisEngine against the model sidecar.
type SidecarEngine struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// NewSidecarEngine creates an engine client. The baseURL should include the
// protocol and port (e.g., "http://127.0.0.1:8000"); the timeout applies to
// every request including synthesis, so size it for the slowest utterance.
func NewSidecarEngine(baseURL string, timeout time.Duration, log *logger.Logger) *SidecarEngine {
	return &SidecarEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log,
	}
}

// Load asks the sidecar to load the model on the given device and returns
// the resulting handle. The sidecar holds the weights; a repeated load of an
// already-resident model is cheap on its side.
func (e *SidecarEngine) Load(ctx context.Context, device string) (*core.ModelHandle, error) {
	body, err := json.Marshal(loadRequest{Device: device})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal load request: %w", err)
	}

	resp, err := e.postJSON(ctx, apiModelLoad, body, contentTypeJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrModelUnavailable, err)
	}
	defer closeBody(resp, e.log)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", core.ErrModelUnavailable, e.parseErrorResponse(resp))
	}

	var loaded loadResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&loaded)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode load response: %w",
			core.ErrModelUnavailable, decodeErr)
	}

	return &core.ModelHandle{
		Device:     device,
		SampleRate: loaded.SampleRate,
		LoadedAt:   time.Now(),
	}, nil
}

// Healthy verifies the sidecar is up and serving.
func (e *SidecarEngine) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for sidecar at %s: %w", e.baseURL, err)
	}
	defer closeBody(resp, e.log)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", core.ErrModelUnavailable, resp.Status)
	}

	return nil
}

// Synthesize runs one inference call and returns the raw waveform. The
// resolved voice is staged as a temporary wav file for the sidecar to read.
func (e *SidecarEngine) Synthesize(
	ctx context.Context,
	text string,
	voice *core.ResolvedVoice,
	params core.GenerationParams,
) (*core.Waveform, error) {
	refPath, cleanup, err := e.stageVoiceReference(voice)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	body, err := json.Marshal(synthesisRequest{
		Text:           text,
		SpeakerRefPath: refPath,
		Temperature:    params.Temperature,
		Exaggeration:   params.Exaggeration,
		CFGWeight:      params.CFGWeight,
		Speed:          params.Speed,
		Seed:           params.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	resp, err := e.postJSON(ctx, apiGenerateSpeech, body, contentTypeWAV)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer closeBody(resp, e.log)

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContent, contentTypeWAV, contentType)
	}

	audioData, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read synthesis response: %w", readErr)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudioResponse
	}

	waveform, decodeErr := audio.DecodeWAV(audioData)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode synthesized waveform: %w", decodeErr)
	}

	return waveform, nil
}

// stageVoiceReference writes the resolved voice to a temp wav file and
// returns its path plus a cleanup func. A nil voice stages nothing, letting
// the sidecar use whatever conditionals it already holds.
func (e *SidecarEngine) stageVoiceReference(voice *core.ResolvedVoice) (string, func(), error) {
	if voice == nil || len(voice.Samples) == 0 {
		return "", func() {}, nil
	}

	wavData, err := audio.EncodeWAV(&core.Waveform{
		Samples:    voice.Samples,
		SampleRate: voice.SampleRate,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode voice reference: %w", err)
	}

	tempFile, err := os.CreateTemp("", "speech-voice-ref-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create voice reference temp file: %w", err)
	}

	path := tempFile.Name()
	cleanup := func() {
		removeErr := os.Remove(path)
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
		}
	}

	_, writeErr := tempFile.Write(wavData)

	closeErr := tempFile.Close()
	if writeErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("failed to write voice reference temp file: %w", writeErr)
	}

	if closeErr != nil {
		cleanup()

		return "", nil, fmt.Errorf("failed to close voice reference temp file: %w", closeErr)
	}

	return path, cleanup, nil
}

func (e *SidecarEngine) postJSON(
	ctx context.Context,
	path string,
	body []byte,
	accept string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+path,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, accept)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to sidecar at %s: %w", e.baseURL, err)
	}

	return resp, nil
}

// parseErrorResponse decodes the sidecar's structured error and maps its
// code onto the service taxonomy. GPU exhaustion is surfaced verbatim so the
// orchestrator can throttle.
func (e *SidecarEngine) parseErrorResponse(resp *http.Response) error {
	rawBody, _ := io.ReadAll(resp.Body)

	var errorResp engineErrorResponse

	decodeErr := json.Unmarshal(rawBody, &errorResp)
	if decodeErr != nil {
		return fmt.Errorf(
			"sidecar returned non-OK status: %s, body: %s",
			resp.Status, string(rawBody),
		)
	}

	sentinel := classifyEngineError(errorResp)
	if sentinel != nil {
		return fmt.Errorf("%w: %s (code: %s)", sentinel, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(
		"sidecar error (%s): %s (code: %s)",
		resp.Status, errorResp.Detail, errorResp.ErrorCode,
	)
}

func classifyEngineError(errorResp engineErrorResponse) error {
	switch errorResp.ErrorCode {
	case engineCodeCUDAOOM, engineCodeOOM:
		return core.ErrOutOfMemory
	case engineCodeModelNotLoaded:
		return core.ErrModelUnavailable
	case engineCodeInvalidParams:
		return core.ErrInvalidInput
	}

	// Older sidecar builds report allocation failures without a code.
	if strings.Contains(strings.ToLower(errorResp.Detail), "out of memory") {
		return core.ErrOutOfMemory
	}

	return nil
}

func closeBody(resp *http.Response, log *logger.Logger) {
	closeErr := resp.Body.Close()
	if closeErr != nil && log != nil {
		log.Warn("Failed to close response body: %v", closeErr)
	}
}
