// Package config loads the signaling server's configuration from the command
// line, the environment, and an optional .env file in the working directory.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envVarMode            = "PEERLINK_MODE"
	envVarLogFormat       = "PEERLINK_LOG_FORMAT"
	envVarLogLevel        = "PEERLINK_LOG_LEVEL"
	envVarHost            = "PEERLINK_HOST"
	envVarShutdownTimeout = "PEERLINK_SHUTDOWN_TIMEOUT"

	// envVarRelayPassword is the shared secret gating relay operations. It is
	// conventionally supplied through a .env file in the working directory.
	envVarRelayPassword = "RELAY_PASSWORD"

	// Inbound signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
)

const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 100

	DefaultMode Mode = ModeDev

	// DotenvFile is loaded from the working directory when present.
	DotenvFile = ".env"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// ListenAddr is host:port for the HTTP/WebSocket listener. The port comes
	// from the optional positional argument (default 8080).
	ListenAddr string
	Port       int

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// RelaySecret is the shared secret for relay authentication. Empty means
	// relay authentication always fails.
	RelaySecret string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

// Load parses configuration from args (flags plus an optional positional port)
// and the environment. A .env file in the working directory is merged into the
// environment first, without overriding variables that are already set.
func Load(args []string) (Config, error) {
	if err := loadDotenv(DotenvFile); err != nil {
		return Config{}, err
	}
	return load(os.LookupEnv, args)
}

func loadDotenv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode := envOrDefault(lookup, envVarMode, string(DefaultMode))

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(envMode))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(envMode))
	hostDefault := envOrDefault(lookup, envVarHost, "")

	flags := flag.NewFlagSet("peerlink-server", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: peerlink-server [flags] [port]\n\nFlags:\n")
		flags.PrintDefaults()
	}

	modeFlag := flags.String("mode", envMode, "run mode: dev or prod")
	logFormatFlag := flags.String("log-format", logFormatDefault, "log format: text or json")
	logLevelFlag := flags.String("log-level", logLevelDefault, "log level: debug, info, warn or error")
	hostFlag := flags.String("host", hostDefault, "listen host (empty means all interfaces)")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	port := DefaultPort
	switch rest := flags.Args(); len(rest) {
	case 0:
	case 1:
		p, err := strconv.Atoi(rest[0])
		if err != nil || p < 1 || p > 65535 {
			return Config{}, fmt.Errorf("invalid port argument %q", rest[0])
		}
		port = p
	default:
		return Config{}, fmt.Errorf("unexpected arguments: %v", rest[1:])
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatFlag)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelFlag)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMsgBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMsgRate, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	relaySecret, _ := lookup(envVarRelayPassword)

	return Config{
		ListenAddr: net.JoinHostPort(*hostFlag, strconv.Itoa(port)),
		Port:       port,

		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  logLevel,

		ShutdownTimeout: shutdownTimeout,

		RelaySecret: relaySecret,

		MaxSignalingMessageBytes:      maxMsgBytes,
		MaxSignalingMessagesPerSecond: maxMsgRate,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}
