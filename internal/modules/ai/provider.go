package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is an uploaded file handed to a provider.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsText reports whether the file can be inlined into a prompt as text.
func (f File) IsText() bool {
	mt := strings.ToLower(f.MIMEType)
	return strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml"
}

// IsPDF reports whether the file is a PDF document.
func (f File) IsPDF() bool { return strings.EqualFold(f.MIMEType, "application/pdf") }

// IsImage reports whether the file is an image.
func (f File) IsImage() bool { return CategoryOf(f.MIMEType) == CategoryImage }

// Base64 returns the file content encoded for JSON payloads.
func (f File) Base64() string { return base64.StdEncoding.EncodeToString(f.Data) }

// DataURL returns a data: URL of the file content.
func (f File) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", f.MIMEType, f.Base64())
}

// AnalysisRequest is everything a provider needs for a single analysis call.
type AnalysisRequest struct {
	File            File
	Provider        Provider
	Model           Model
	APIKey          string
	WithReasoning   bool
	UseThinkingMode bool
}

// AnalysisProvider is one provider integration. Analyze returns the raw model
// answer; the dispatcher owns retries, usage and error wrapping.
type AnalysisProvider interface {
	ID() string
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	Classify(err error) ErrorKind
}

// Preflighter is implemented by providers that can reject a request before
// any network call.
type Preflighter interface {
	Preflight(req AnalysisRequest) error
}

func unsupportedFile(provider string, f File, msg string) *UnsupportedFileError {
	return &UnsupportedFileError{Provider: provider, MIMEType: f.MIMEType, Message: msg}
}

// DetectMIME returns declared when it is specific, otherwise sniffs the content.
func DetectMIME(declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	detected := mimetype.Detect(head).String()
	if mt, _, err := mime.ParseMediaType(detected); err == nil {
		return mt
	}
	return detected
}
