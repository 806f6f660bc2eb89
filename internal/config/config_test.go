package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"csvconf/internal/datasource"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "csvconf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "sqlite", cfg.Storage.Kind)
	assert.Equal(t, "none", cfg.Metrics.Backend)
	assert.Equal(t, datasource.DefaultDetectRows, cfg.Source.DetectRows)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
preview:
  max_rows: 25
numbers:
  locale: de-DE
  decimal: ","
  thousands: "."
source:
  delimiter: ";"
  encoding: windows-1252
storage:
  kind: postgres
  dsn: postgres://localhost/csv
  table: staging.points
metrics:
  backend: prompush
  push_url: http://localhost:9091
  flush_every: 30s
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Preview.MaxRows)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, "staging.points", cfg.Storage.Table)
	assert.Equal(t, 500, cfg.Storage.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Metrics.FlushEvery)
	assert.Equal(t, "csvconf", cfg.Metrics.Job)
	assert.True(t, cfg.Logging.JSON)

	p, err := cfg.NumberPolicy()
	require.NoError(t, err)
	assert.Equal(t, ',', p.Decimal)
	assert.Equal(t, '.', p.Thousands)
	assert.Equal(t, language.MustParse("de-DE"), p.Locale)

	opts := cfg.SourceOptions(p)
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, "windows-1252", opts.Encoding)
	assert.Equal(t, p, opts.Numbers)
}

func TestLoad_EnvDSN(t *testing.T) {
	t.Setenv(EnvDSN, "file:/tmp/env.db")
	path := writeConfig(t, "storage:\n  dsn: file:/tmp/file.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:/tmp/env.db", cfg.Storage.DSN)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad yaml", "storage: [", "parse"},
		{"unknown storage kind", "storage:\n  kind: oracle\n", "Kind"},
		{"unknown metrics backend", "metrics:\n  backend: statsd\n", "Backend"},
		{"prompush needs url", "metrics:\n  backend: prompush\n", "PushURL"},
		{"bad log level", "logging:\n  level: loud\n", "Level"},
		{"long delimiter", "source:\n  delimiter: ';;'\n", "Delimiter"},
		{"negative batch", "storage:\n  batch_size: -1\n", "BatchSize"},
		{"clashing separators", "numbers:\n  decimal: ','\n  thousands: ','\n", "separators"},
		{"bad locale", "numbers:\n  locale: '!!'\n", "locale"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSourceOptions_SniffWhenDelimiterUnset(t *testing.T) {
	t.Parallel()

	opts := Default().SourceOptions(datasource.Options{}.Numbers)
	assert.Zero(t, opts.Delimiter)
	assert.Equal(t, datasource.DefaultDetectRows, opts.DetectLimit())
}
