package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":     zerolog.TraceLevel,
		"DEBUG":     zerolog.DebugLevel,
		"warn":      zerolog.WarnLevel,
		"warning":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"off":       zerolog.Disabled,
		"disabled":  zerolog.Disabled,
		"":          zerolog.InfoLevel,
		" garbage ": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

func TestBuildAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := build(Options{
		Level:     "info",
		Format:    "json",
		Service:   "enrichd",
		Component: "cli",
		Writer:    &buf,
		Fields:    map[string]string{"build": "test"},
	})
	l.Info().Msg("hello")
	l.Debug().Msg("hidden")

	out := buf.String()
	for _, want := range []string{`"service":"enrichd"`, `"component":"cli"`, `"build":"test"`, `"go_version"`, `"hello"`} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "hidden")
}

func TestContextLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Writer: &buf})

	ctx := WithRun(context.Background(), "run-123", "gerrit")
	ctx = WithIndex(ctx, "gerrit_enriched")
	C(ctx).Info().Msg("ctx-msg")
	Named("geocode").Info().Msg("named-msg")

	out := buf.String()
	for _, want := range []string{`"run_id":"run-123"`, `"source":"gerrit"`, `"index":"gerrit_enriched"`, `"component":"geocode"`} {
		assert.Contains(t, out, want)
	}
	assert.Same(t, Get(), C(context.Background()))
}

func TestWithRunBlankLeavesContext(t *testing.T) {
	base := context.Background()
	assert.Equal(t, base, WithRun(base, "", ""))
	assert.Equal(t, base, WithIndex(base, ""))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_SERVICE", "enrichd")
	t.Setenv("LOG_CALLER", "true")
	t.Setenv("LOG_SAMPLE_EVERY", "5")

	opt := FromEnv()
	assert.Equal(t, "warn", opt.Level)
	assert.Equal(t, "json", opt.Format)
	assert.Equal(t, "enrichd", opt.Service)
	assert.True(t, opt.WithCaller)
	assert.Equal(t, 5, opt.SampleEvery)
}
