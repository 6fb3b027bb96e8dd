// Package logger owns the process-wide slog instance. Every package logs
// through L() (or the package-level shortcuts), so handler choice, level and
// the component attribute are decided once, at startup, from config.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gbimatch/matchmaker/internal/config"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Config struct {
	Level      string
	Format     Format
	Component  string
	WithSource bool
}

func defaults() Config {
	return Config{Level: "info", Format: FormatText}
}

var (
	mu      sync.RWMutex
	current = defaults()
	global  *slog.Logger
)

// InitFromConfig initializes the global logger from app config.
func InitFromConfig(c *config.Config) {
	if c == nil {
		Init(nil)
		return
	}
	Init(&Config{
		Level:      c.Log.Level,
		Format:     Format(c.Log.Format),
		Component:  c.Log.Component,
		WithSource: c.Log.Source,
	})
}

// Init builds and installs the global logger. Calling it again replaces the
// handler, which tests rely on.
func Init(c *Config) {
	mu.Lock()
	defer mu.Unlock()

	if c != nil {
		current = *c
	}
	global = build(current)
}

func build(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(c.Level),
		AddSource:   c.WithSource,
		ReplaceAttr: timeFormatter(c.Format),
	}

	var h slog.Handler
	switch Format(strings.ToLower(string(c.Format))) {
	case FormatJSON:
		h = slog.NewJSONHandler(os.Stdout, opts)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	l := slog.New(h)
	if c.Component != "" {
		l = l.With("component", c.Component)
	}
	return l
}

// timeFormatter renders text-mode timestamps without sub-second noise; JSON
// output keeps slog's native encoding.
func timeFormatter(f Format) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && f == FormatText {
			return slog.String(slog.TimeKey, time.Now().Format("2006-01-02 15:04:05"))
		}
		return a
	}
}

// L returns the global logger, installing the default one on first use.
func L() *slog.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	Init(nil)

	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With creates a child logger with additional attributes.
func With(args ...any) *slog.Logger { return L().With(args...) }

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
