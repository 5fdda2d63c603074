package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely log output goes.
type Options struct {
	Debug     bool
	DebugFile string
}

// Setup initializes the global logger: console output on stderr, plus a
// rotating debug file when one is configured.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	if opts.DebugFile == "" {
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()
		return nil
	}

	dir := filepath.Dir(opts.DebugFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.DebugFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}
	if err := os.Chmod(opts.DebugFile, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", opts.DebugFile).Msg("Failed to set secure permissions on log file")
	}

	log.Logger = zerolog.New(io.MultiWriter(consoleWriter, fileWriter)).With().Timestamp().Logger()

	log.Debug().
		Str("debug_file", opts.DebugFile).
		Str("level", level.String()).
		Msg("File logging initialized")
	return nil
}
