package files

import (
	"io"
	"time"
)

// Status is the lifecycle stage of an uploaded file.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// UploadedFile is an upload as the client sees it.
type UploadedFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIMEType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Progress     int       `json:"progress"`
	Status       Status    `json:"status"`
	PreviewURL   string    `json:"preview_url,omitempty"`
	Analysis     *string   `json:"analysis"`
	ProviderName string    `json:"provider_name,omitempty"`
	ModelName    string    `json:"model_name,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Owner     string `json:"-"`
	ObjectKey string `json:"-"`
}

// UploadInput describes one incoming upload.
type UploadInput struct {
	Name     string
	MIMEType string
	// Size is the declared length used for progress; 0 when unknown.
	Size int64
	Data io.Reader

	AnalyzeOptions
}

// AnalyzeOptions selects the model for an analysis. An empty ModelID skips analysis.
type AnalyzeOptions struct {
	ModelID       string `json:"model_id"`
	WithReasoning bool   `json:"with_reasoning"`
	UseThinking   bool   `json:"thinking"`
}
