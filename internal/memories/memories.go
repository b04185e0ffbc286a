// Package memories is the client for the remote memories service, which
// transcribes uploaded recordings and stores the resulting notes.
//
// Every call follows one convention: a 2xx response with a JSON body is
// decoded and returned; anything else becomes a *[TransportError] whose
// Message is taken from the error payload's detail, message or title field,
// falling back to a generic text naming the status code. The client never
// retries on its own.
package memories

import "time"

// Status is the processing state of a memory on the server.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// CreateResult is the server's answer to an upload. A result with
// [StatusFailed] is a successful call reporting a failed transcription.
type CreateResult struct {
	ID                string   `json:"id"`
	Status            Status   `json:"status"`
	ErrorMessage      string   `json:"errorMessage,omitempty"`
	TranscriptPreview string   `json:"transcriptPreview,omitempty"`
	Title             string   `json:"title,omitempty"`
	Summary           string   `json:"summary,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// Memory is a stored note.
type Memory struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	RecordedAt   time.Time `json:"recordedAt"`
	Status       Status    `json:"status"`
	Title        string    `json:"title,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// Summary is one entry of a [Page].
type Summary struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"createdAt"`
	RecordedAt        time.Time `json:"recordedAt"`
	Status            Status    `json:"status"`
	TranscriptSnippet string    `json:"transcriptSnippet"`
	Tags              []string  `json:"tags,omitempty"`
}

// Page is one page of the memory list.
type Page struct {
	Items         []Summary `json:"items"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
}

// Default list paging.
const (
	DefaultPage = 0
	DefaultSize = 50
)

// ListOptions filters and pages [Client.List].
type ListOptions struct {
	// Page is zero-based.
	Page int

	// Size is the page size. Zero means [DefaultSize].
	Size int

	// Month restricts results to recordings from one month, formatted
	// "2006-01". Empty means no restriction.
	Month string

	// Tags restricts results to memories carrying any of these tag labels.
	Tags []string
}

// Patch is a partial update. Nil fields are left unchanged on the server.
type Patch struct {
	Title      *string   `json:"title,omitempty"`
	Transcript *string   `json:"transcript,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Transcript == nil && p.Tags == nil
}
