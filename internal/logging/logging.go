// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

const (
	OutputStdout = "stdout"
	OutputFile   = "file"

	// RotationTime is how long one log file stays current.
	RotationTime = 6 * time.Hour
	filePattern  = "wsd_%Y%m%d%H%M%S.log"
)

// Config selects where and how the server logs.
type Config struct {
	Enabled bool
	Output  string // "stdout" or "file"
	Dir     string // directory for file output
	Level   string // logrus level name
	JSON    bool   // JSON formatter on stdout; file output is always JSON
}

// New returns a logger for cfg. A disabled logger discards its output.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		l, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	log.SetLevel(level)

	if !cfg.Enabled {
		log.SetOutput(io.Discard)
		return log, nil
	}

	switch strings.ToLower(cfg.Output) {
	case OutputStdout, "":
		log.SetOutput(os.Stdout)
		if cfg.JSON {
			log.SetFormatter(&logrus.JSONFormatter{})
		} else {
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	case OutputFile:
		w, err := rotating(cfg.Dir)
		if err != nil {
			return nil, err
		}
		log.SetOutput(w)
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
	return log, nil
}

func rotating(dir string) (*rotatelogs.RotateLogs, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	w, err := rotatelogs.New(
		filepath.Join(dir, filePattern),
		rotatelogs.WithRotationTime(RotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return w, nil
}

// Close releases the file behind log when it writes to one.
func Close(log *logrus.Logger) error {
	if c, ok := log.Out.(io.Closer); ok && log.Out != os.Stdout && log.Out != os.Stderr {
		return c.Close()
	}
	return nil
}
