package logger

import (
	"io"
	"log/slog"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text handler, used in dev
	BackendZap Backend = "zap" // zap JSON core behind slog
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level   slog.Level
	Env     Env
	Backend Backend // default: std in dev, zap elsewhere
	Silent  bool    // discard everything

	// zap sampling, per second
	SampleInitial    int
	SampleThereafter int

	AddSource bool

	// Output defaults to os.Stdout
	Output io.Writer
}

// ParseLevel maps LOG_LEVEL style names to a level. "silent" and "off"
// report silent=true.
func ParseLevel(s string) (lvl slog.Level, silent bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, false
	case "warn", "warning":
		return slog.LevelWarn, false
	case "error":
		return slog.LevelError, false
	case "silent", "off", "none":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
