// Package nativelog builds the process logger: console output plus one log
// file per day, with old files pruned.
package nativelog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	filePrefix = "prism-"
	fileSuffix = ".log"
	dayLayout  = "2006-01-02"

	defaultKeepDays = 14
	filePerm        = 0o644
	dirPerm         = 0o755
)

// Options configures New.
type Options struct {
	// Dir holds the daily files. Empty means ./logs.
	Dir string
	// Level is one of debug, info, warn, error.
	Level string
	// Development switches to colored console output and debug stack traces.
	Development bool
	// KeepDays is how many daily files survive pruning.
	KeepDays int
}

// Filename returns the daily log file name for day.
func Filename(day time.Time) string {
	return filePrefix + day.Format(dayLayout) + fileSuffix
}

// DailyWriter appends to the file of the current day and switches files
// when the date changes.
type DailyWriter struct {
	mu       sync.Mutex
	dir      string
	keepDays int
	now      func() time.Time

	day  string
	file *os.File
}

func NewDailyWriter(dir string, keepDays int) (*DailyWriter, error) {
	if dir == "" {
		dir = "logs"
	}
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	return &DailyWriter{dir: dir, keepDays: keepDays, now: time.Now}, nil
}

func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

func (w *DailyWriter) rotate() error {
	now := w.now()
	day := now.Format(dayLayout)
	if w.file != nil && w.day == day {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	f, err := os.OpenFile(filepath.Join(w.dir, Filename(now)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	w.file, w.day = f, day
	w.prune()
	return nil
}

// prune removes daily files beyond keepDays, oldest first.
func (w *DailyWriter) prune() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if _, err := time.Parse(dayLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)); err != nil {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= w.keepDays {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-w.keepDays] {
		_ = os.Remove(filepath.Join(w.dir, name))
	}
}

func (w *DailyWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close releases the current file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// New creates a zap logger writing to stdout and the daily file. Console
// output is human readable; the file always gets JSON lines.
func New(opts Options) (*zap.Logger, error) {
	writer, err := NewDailyWriter(opts.Dir, opts.KeepDays)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	if opts.Development {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(writer), level),
	)

	zopts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}
	logger := zap.New(core, zopts...)
	_ = zap.RedirectStdLog(logger)
	return logger, nil
}
