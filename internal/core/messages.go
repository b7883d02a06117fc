package core

import "github.com/nnikolov3/events"

// SpeechJobEvent is the queue payload that requests one synthesis job. The
// voice reference may be staged in the voice object store (VoiceRefKey) or
// carried inline base64 (VoiceRefBase64); at most one should be set.
type SpeechJobEvent struct {
	Header         events.EventHeader `json:"header"`
	JobID          string             `json:"job_id"`
	Text           string             `json:"text"`
	VoiceRefKey    string             `json:"voice_ref_key,omitempty"`
	VoiceRefBase64 string             `json:"voice_ref_base64,omitempty"`
	OutputFormat   string             `json:"output_format"`
	Temperature    float64            `json:"temperature,omitempty"`
	Exaggeration   float64            `json:"exaggeration,omitempty"`
	CFGWeight      float64            `json:"cfg_weight,omitempty"`
	Speed          float64            `json:"speed,omitempty"`
	Seed           int                `json:"seed,omitempty"`
	TimeoutMs      int                `json:"timeout_ms,omitempty"`
}

// SpeechResultEvent is the single reply published for a job. On success the
// artifact is referenced by AudioKey and, when small enough, additionally
// inlined base64. On failure ErrorKind carries a stable code and is never
// empty.
type SpeechResultEvent struct {
	Header          events.EventHeader `json:"header"`
	JobID           string             `json:"job_id"`
	Status          JobStatus          `json:"status"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	ErrorDetail     string             `json:"error_detail,omitempty"`
	AudioKey        string             `json:"audio_key,omitempty"`
	AudioBase64     string             `json:"audio_base64,omitempty"`
	Format          string             `json:"format,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	SampleRate      int                `json:"sample_rate,omitempty"`
	SizeBytes       int                `json:"size_bytes,omitempty"`
}
