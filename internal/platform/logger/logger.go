// Package logger owns the process root zerolog logger and carries run-scoped
// child loggers through context
package logger

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"enrichd/internal/platform/config/raw"
)

// Logger is the project-wide logging type
type Logger = zerolog.Logger

// Options configures the root logger
type Options struct {
	Level       string
	Format      string // console or json
	Service     string
	Component   string
	Writer      io.Writer // stdout when nil
	WithCaller  bool
	SampleEvery int
	Fields      map[string]string
}

// FromEnv reads LOG_* through the raw view
func FromEnv() Options {
	env := raw.New().Prefix("LOG_")
	return Options{
		Level:       env.Get("LEVEL", "info"),
		Format:      strings.ToLower(env.Get("FORMAT", "console")),
		Service:     env.Get("SERVICE", ""),
		Component:   env.Get("COMPONENT", ""),
		WithCaller:  env.GetBool("CALLER", false),
		SampleEvery: env.GetInt("SAMPLE_EVERY", 0),
	}
}

var (
	initOnce sync.Once
	root     zerolog.Logger
)

// Init builds the root logger from opt. Only the first call has any effect
func Init(opt Options) {
	initOnce.Do(func() { root = build(opt) })
}

// Get returns the root logger, initialising it from the environment if needed
func Get() *Logger {
	Init(FromEnv())
	return &root
}

func build(opt Options) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	w := opt.Writer
	if w == nil {
		w = os.Stdout
	}
	if opt.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	b := zerolog.New(w).
		Level(parseLevel(opt.Level)).
		With().
		Timestamp().
		Str("go_version", runtime.Version())
	for k, v := range map[string]string{"service": opt.Service, "component": opt.Component} {
		if v != "" {
			b = b.Str(k, v)
		}
	}
	for k, v := range opt.Fields {
		b = b.Str(k, v)
	}
	if opt.WithCaller {
		b = b.Caller()
	}
	l := b.Logger()
	if opt.SampleEvery > 1 {
		l = l.Sample(&zerolog.BasicSampler{N: uint32(opt.SampleEvery)})
	}
	return l
}

// parseLevel accepts zerolog level names plus "warning" and "off"; unknown is info
func parseLevel(s string) zerolog.Level {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "warning":
		return zerolog.WarnLevel
	case "off":
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithRun attaches a child logger tagged with run_id and source to ctx
func WithRun(ctx context.Context, runID, source string) context.Context {
	return with(ctx, map[string]string{"run_id": runID, "source": source})
}

// WithIndex tags the ctx logger with the index a step reads or writes
func WithIndex(ctx context.Context, index string) context.Context {
	return with(ctx, map[string]string{"index": index})
}

func with(ctx context.Context, fields map[string]string) context.Context {
	b, n := C(ctx).With(), 0
	for k, v := range fields {
		if v != "" {
			b, n = b.Str(k, v), n+1
		}
	}
	if n == 0 {
		return ctx
	}
	l := b.Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// C returns the logger carried by ctx, or the root logger
func C(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Get()
}

// Named returns a root child with a component field
func Named(component string) *Logger {
	l := Get().With().Str("component", component).Logger()
	return &l
}

type ctxKey struct{}
