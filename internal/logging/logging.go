// Package logging builds the component loggers used across a device.
//
// Every component logs through a standard *log.Logger with a "[component] "
// prefix. The shared writer is stderr, or a size-rotated file when a log file
// is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared writer.
type Options struct {
	// File to append to; empty logs to stderr
	File string

	// Rotation limits for File (defaults: 10 MB, 3 backups, 28 days)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet discards all output
	Quiet bool
}

// Factory hands out loggers that share one writer.
type Factory struct {
	w      io.Writer
	closer io.Closer
}

// New creates a factory for opts.
func New(opts Options) (*Factory, error) {
	switch {
	case opts.Quiet:
		return &Factory{w: io.Discard}, nil
	case opts.File == "":
		return &Factory{w: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
	}
	return &Factory{w: lj, closer: lj}, nil
}

// Stderr returns a factory writing to stderr.
func Stderr() *Factory {
	return &Factory{w: os.Stderr}
}

// Discard returns a factory that drops everything.
func Discard() *Factory {
	return &Factory{w: io.Discard}
}

// Logger returns a logger for component.
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared writer.
func (f *Factory) Writer() io.Writer {
	return f.w
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
