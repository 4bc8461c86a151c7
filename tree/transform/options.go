package transform

import (
	"io"
	"log/slog"
	"time"
)

// Options configures a transform session.
type Options struct {
	// Logger receives session warnings, such as symlinks degraded on
	// filesystems without symlink support.
	// Default: discard all output
	Logger *slog.Logger

	// CreationTime is the modification time stamped on every staged
	// file, so one session produces files with one timestamp.
	// Default: time.Now() at session start
	CreationTime time.Time
}

// DefaultOptions returns the options used when New is given nil.
func DefaultOptions() *Options {
	return &Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
