package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// levelRouter is a zerolog.LevelWriter that routes INFO/WARN to stdout and
// ERROR+ to stderr.
type levelRouter struct {
	stdout io.Writer
	stderr io.Writer
}

func (lr *levelRouter) Write(p []byte) (int, error) {
	return lr.stdout.Write(p)
}

func (lr *levelRouter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.ErrorLevel && level != zerolog.NoLevel {
		return lr.stderr.Write(p)
	}
	return lr.stdout.Write(p)
}

// setupLogger configures the global logger. If logPath is non-empty, all
// levels are also written to that file as JSON. Returns a cleanup function
// that closes the log file (if opened).
func setupLogger(logPath string, debug bool) (func(), error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w zerolog.LevelWriter = &levelRouter{
		stdout: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
		stderr: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	}

	var cleanup func()
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		w = zerolog.MultiLevelWriter(w, f)
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return cleanup, nil
}
