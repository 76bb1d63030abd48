// Package logger provides structured logging for the broker, using zerolog.
//
// Initialize must be called once at startup before any component logs.
// Component loggers (Broker, Launch, Proxy, Collab, Jobs, Storage) attach a
// "component" field so log aggregation can filter per subsystem.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance; use the component helpers for tagged logging.
var Log zerolog.Logger

// Initialize configures the global logger.
//
//	logger.Initialize("info", false) // production JSON
//	logger.Initialize("debug", true) // pretty console output
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "sealskin-broker").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Broker returns a logger tagged for the top-level Broker wiring.
func Broker() *zerolog.Logger { return component("broker") }

// Launch returns a logger tagged for LaunchEngine events.
func Launch() *zerolog.Logger { return component("launch") }

// Proxy returns a logger tagged for ReverseProxy events.
func Proxy() *zerolog.Logger { return component("proxy") }

// Collab returns a logger tagged for CollaborationRoom events.
func Collab() *zerolog.Logger { return component("collab") }

// Jobs returns a logger tagged for BackgroundJobs events.
func Jobs() *zerolog.Logger { return component("jobs") }

// Storage returns a logger tagged for StorageManager events.
func Storage() *zerolog.Logger { return component("storage") }

// Crypto returns a logger tagged for CryptoChannel events.
func Crypto() *zerolog.Logger { return component("crypto") }

// Share returns a logger tagged for PublicShare events.
func Share() *zerolog.Logger { return component("share") }
