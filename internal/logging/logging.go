// Package logging builds the per-component loggers.
//
// Every component takes a *log.Logger with a bracketed prefix. Factory
// hands them out over one shared writer: a size-rotated file when a log
// file is configured, the terminal when verbose, otherwise nowhere.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/tasksync/internal/config"
)

// Factory creates prefixed loggers over a shared writer.
type Factory struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
}

// New creates a factory for the given settings.
func New(c config.LogConfig) (*Factory, error) {
	if c.File == "" {
		if c.Verbose {
			return &Factory{out: os.Stderr}, nil
		}
		return &Factory{out: io.Discard}, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}

	var out io.Writer = rotator
	if c.Verbose {
		out = io.MultiWriter(rotator, os.Stderr)
	}
	return &Factory{out: out, closer: rotator}, nil
}

// Discard returns a factory whose loggers write nowhere.
func Discard() *Factory {
	return &Factory{out: io.Discard}
}

// Logger returns a logger for component, e.g. Logger("sync") prefixes
// lines with "[sync] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f, "["+component+"] ", log.LstdFlags)
}

// Write implements io.Writer so loggers share one serialized sink.
func (f *Factory) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

// Rotate starts a new log file. It is a no-op without a log file.
func (f *Factory) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.closer.(*lumberjack.Logger); ok {
		return r.Rotate()
	}
	return nil
}

// Close releases the log file.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	f.out = io.Discard
	return err
}
