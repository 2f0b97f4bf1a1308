package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"go.uber.org/zap"
)

const (
	defaultMaxBytes        = ai.MaxUploadBytes
	defaultAnalysisTimeout = 5 * time.Minute

	// FileStatusEvent is published when a background analysis settles.
	FileStatusEvent = "FILE_STATUS"
)

// ErrTooLarge is returned when an upload exceeds the size limit.
var ErrTooLarge = errors.New("file is too large")

// Analyzer runs a file analysis; *ai.Dispatcher satisfies it.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, file ai.File, modelID string, withReasoning, useThinkingMode bool) (ai.AnalysisResult, error)
}

// Notifier receives file status changes for the owning scope.
type Notifier interface {
	Publish(scope, event string, payload interface{})
}

// Service owns the upload lifecycle: store the bytes, track progress and
// run analyses in the background.
type Service struct {
	registry    Registry
	store       ObjectStore
	analyzer    Analyzer
	previewBase string
	maxBytes    int64
	timeout     time.Duration
	now         func() time.Time
	log         *zap.Logger
	notifier    Notifier

	wg sync.WaitGroup
}

// NewService wires the lifecycle. previewBase is the URL prefix preview links
// are built from, e.g. "/api/v1/files".
func NewService(registry Registry, store ObjectStore, analyzer Analyzer, previewBase string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry:    registry,
		store:       store,
		analyzer:    analyzer,
		previewBase: strings.TrimRight(previewBase, "/"),
		maxBytes:    defaultMaxBytes,
		timeout:     defaultAnalysisTimeout,
		now:         time.Now,
		log:         log.Named("files"),
	}
}

// SetNotifier routes analysis status changes to n.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func owner(ctx context.Context) (string, error) {
	scope, err := clientscope.Require(ctx)
	if err != nil {
		return "", err
	}
	return scope.ID, nil
}

func objectKey(owner, id, name string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if len(ext) > 10 || !isSafeSegment(ext) {
		ext = ""
	}
	return strings.ReplaceAll(owner, ":", "/") + "/" + id + ext
}

// Upload stores in.Data and registers the file. When a model is given the
// analysis starts in the background and the returned file is Analyzing.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadedFile, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return UploadedFile{}, err
	}
	now := s.now()
	f := UploadedFile{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		MIMEType:  in.MIMEType,
		Size:      in.Size,
		Status:    StatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
		Owner:     ownerID,
	}
	if f.Name == "" {
		f.Name = "upload"
	}
	f.ObjectKey = objectKey(f.Owner, f.ID, f.Name)
	if err := s.registry.Save(ctx, f); err != nil {
		return UploadedFile{}, err
	}

	pr := newProgressReader(in.Data, in.Size, func(pct int) {
		f.Progress = pct
		f.UpdatedAt = s.now()
		if err := s.registry.Save(ctx, f); err != nil {
			s.log.Warn("save upload progress failed", zap.String("id", f.ID), zap.Error(err))
		}
	})
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(pr, s.maxBytes+1))
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d MB", ErrTooLarge, s.maxBytes>>20)
	}
	if err != nil {
		return s.fail(ctx, f, err)
	}
	data := buf.Bytes()
	f.Size = int64(len(data))
	f.MIMEType = ai.DetectMIME(in.MIMEType, data)

	if err := s.store.Put(ctx, f.ObjectKey, data, f.MIMEType); err != nil {
		return s.fail(ctx, f, fmt.Errorf("store upload: %w", err))
	}
	f.Progress = 100
	f.PreviewURL = s.previewBase + "/" + f.ID + "/preview"
	f.Status = StatusCompleted
	f.UpdatedAt = s.now()

	if in.ModelID != "" {
		f.Status = StatusAnalyzing
		if err := s.registry.Save(ctx, f); err != nil {
			return UploadedFile{}, err
		}
		s.startAnalysis(ctx, f, data, in.AnalyzeOptions)
		return f, nil
	}
	if err := s.registry.Save(ctx, f); err != nil {
		return UploadedFile{}, err
	}
	return f, nil
}

func (s *Service) fail(ctx context.Context, f UploadedFile, cause error) (UploadedFile, error) {
	f.Status = StatusError
	f.Error = cause.Error()
	f.UpdatedAt = s.now()
	if err := s.registry.Save(ctx, f); err != nil {
		s.log.Warn("save failed upload", zap.String("id", f.ID), zap.Error(err))
	}
	return f, cause
}

// Get returns the caller's file.
func (s *Service) Get(ctx context.Context, id string) (UploadedFile, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return UploadedFile{}, err
	}
	f, err := s.registry.Get(ctx, id)
	if err != nil {
		return UploadedFile{}, err
	}
	if f.Owner != ownerID {
		return UploadedFile{}, ErrNotFound
	}
	return f, nil
}

// List returns the caller's files, newest first.
func (s *Service) List(ctx context.Context) ([]UploadedFile, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.registry.List(ctx, ownerID)
}

// Open streams the stored bytes of the caller's file.
func (s *Service) Open(ctx context.Context, id string) (io.ReadCloser, UploadedFile, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, UploadedFile{}, err
	}
	if f.PreviewURL == "" {
		return nil, UploadedFile{}, ErrNotFound
	}
	rc, err := s.store.Open(ctx, f.ObjectKey)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, UploadedFile{}, ErrNotFound
	}
	if err != nil {
		return nil, UploadedFile{}, err
	}
	return rc, f, nil
}

// Analyze (re)runs the analysis of a stored file in the background.
func (s *Service) Analyze(ctx context.Context, id string, opts AnalyzeOptions) (UploadedFile, error) {
	if strings.TrimSpace(opts.ModelID) == "" {
		return UploadedFile{}, errors.New("model_id is required")
	}
	rc, f, err := s.Open(ctx, id)
	if err != nil {
		return UploadedFile{}, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("read stored file: %w", err)
	}

	f.Status = StatusAnalyzing
	f.Analysis = nil
	f.ProviderName, f.ModelName = "", ""
	f.Error, f.ErrorKind = "", ""
	f.UpdatedAt = s.now()
	if err := s.registry.Save(ctx, f); err != nil {
		return UploadedFile{}, err
	}
	s.startAnalysis(ctx, f, data, opts)
	return f, nil
}

// Remove deletes the stored object and forgets the file.
func (s *Service) Remove(ctx context.Context, id string) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, f.ObjectKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return s.registry.Delete(ctx, id)
}

// Wait blocks until all background analyses have finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) startAnalysis(ctx context.Context, f UploadedFile, data []byte, opts AnalyzeOptions) {
	// The analysis outlives the request but keeps its client scope.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runAnalysis(bg, f, data, opts)
	}()
}

func (s *Service) runAnalysis(ctx context.Context, f UploadedFile, data []byte, opts AnalyzeOptions) {
	file := ai.File{Name: f.Name, MIMEType: f.MIMEType, Data: data}
	result, err := s.analyzer.AnalyzeFile(ctx, file, opts.ModelID, opts.WithReasoning, opts.UseThinking)

	current, getErr := s.registry.Get(ctx, f.ID)
	if getErr != nil {
		// Removed while the analysis was running.
		return
	}
	current.UpdatedAt = s.now()
	if err != nil {
		current.Status = StatusError
		current.Error = err.Error()
		current.ErrorKind = string(ai.KindOf(err, nil))
		s.log.Info("file analysis failed",
			zap.String("id", f.ID),
			zap.String("model_id", opts.ModelID),
			zap.String("kind", current.ErrorKind),
			zap.Error(err))
	} else {
		current.Status = StatusCompleted
		current.Analysis = &result.Analysis
		current.ProviderName = result.ProviderName
		current.ModelName = result.ModelName
		current.Error, current.ErrorKind = "", ""
	}
	if err := s.registry.Save(ctx, current); err != nil {
		s.log.Warn("save analysis result failed", zap.String("id", f.ID), zap.Error(err))
		return
	}
	if s.notifier != nil {
		s.notifier.Publish(current.Owner, FileStatusEvent, current)
	}
}
