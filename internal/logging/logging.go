// Package logging builds the component loggers shared by the CLI, the
// daemon and the sync engine.
//
// Every component gets a *log.Logger with a "[component] " prefix. Output
// goes to stderr and, when a file is configured, to a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File is the rotating log file. Empty disables file output.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops stderr output, leaving only the file.
	Quiet bool
}

// Logging owns the shared log writer.
type Logging struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New creates the log writer described by opts. stderr defaults to
// os.Stderr.
func New(opts Options, stderr io.Writer) *Logging {
	if stderr == nil {
		stderr = os.Stderr
	}

	l := &Logging{}
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, stderr)
	}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l
}

// Logger returns a logger for component.
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without file output.
func (l *Logging) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
