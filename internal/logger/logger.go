// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

type Config struct {
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"debug"`
	Output string `yaml:"output"`
	// Console switches to zerolog's human-readable writer.
	Console bool `yaml:"console"`
}

func init() {
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

func Init(config Config) error {
	var output io.Writer = os.Stderr

	if config.Output == "stdout" {
		output = os.Stdout
	}
	if config.Console {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return err
		}
	}

	globalLogger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = globalLogger

	return nil
}

func SetDebug(debug bool) {
	if debug {
		globalLogger = globalLogger.Level(zerolog.DebugLevel)
	} else {
		globalLogger = globalLogger.Level(zerolog.InfoLevel)
	}
	log.Logger = globalLogger
}

func GetLogger() zerolog.Logger {
	return globalLogger
}

func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}
