package synth

import "fmt"

// Mode selects which synthesis endpoint a job is submitted to.
type Mode string

const (
	ModePreview Mode = "preview" // short sample for voice audition
	ModeFinal   Mode = "final"   // confirmed voice-over clip
)

// JobState tracks one asynchronous synthesis job.
type JobState string

const (
	JobSubmitted  JobState = "submitted"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Request describes one synthesis or confirmation operation.
type Request struct {
	Text       string
	Gender     string
	VoiceLabel string
	Mode       Mode
}

// Result carries the normalized audio locations of a completed job.
// The service produces a lossless working file and a compressed delivery file.
type Result struct {
	AudioID   string `json:"audio_id,omitempty"`
	WAVURL    string `json:"wav_url"`
	MP3URL    string `json:"mp3_url"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Job is the client-side record of one in-flight or finished request.
type Job struct {
	ID        string
	StatusURL string
	State     JobState
	Result    *Result
	Err       string
}

// SubmissionRejectedError reports a submit call the service did not accept.
type SubmissionRejectedError struct {
	Status int
	Body   string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("synthesis submission rejected: status %d: %s", e.Status, e.Body)
}

// SynthesisFailedError reports a job that reached the terminal failed state.
type SynthesisFailedError struct {
	JobID  string
	Reason string
}

func (e *SynthesisFailedError) Error() string {
	return fmt.Sprintf("synthesis job %s failed: %s", e.JobID, e.Reason)
}

// PollLimitError reports a job still pending after the configured number of
// status polls.
type PollLimitError struct {
	JobID    string
	Attempts int
}

func (e *PollLimitError) Error() string {
	return fmt.Sprintf("synthesis job %s still pending after %d polls", e.JobID, e.Attempts)
}
