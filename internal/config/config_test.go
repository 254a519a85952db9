package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Netting.Workers)
	assert.Equal(t, "contiguous", cfg.Netting.Partition)
	assert.Equal(t, 30, cfg.Netting.WindowDays)
	assert.Equal(t, ".", cfg.Output.Dir)
	assert.Equal(t, "xlsx,parquet,csv", cfg.Output.Formats)
	assert.Equal(t, "rx-netting", cfg.AWS.Prefix)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Postgres.URL)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RXNET_NETTING_WORKERS", "3")
	t.Setenv("RXNET_NETTING_PARTITION", "grouped")
	t.Setenv("RXNET_NETTING_WINDOW_DAYS", "45")
	t.Setenv("RXNET_OUTPUT_OPPORTUNITY", "Acme")
	t.Setenv("RXNET_INPUT_STD_GZIP", "true")
	t.Setenv("RXNET_AWS_BUCKET", "rx-results")
	t.Setenv("RXNET_PG_URL", "postgres://localhost/rx")
	t.Setenv("RXNET_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Netting.Workers)
	assert.Equal(t, "grouped", cfg.Netting.Partition)
	assert.Equal(t, 45, cfg.Netting.WindowDays)
	assert.Equal(t, "Acme", cfg.Output.Opportunity)
	assert.True(t, cfg.Input.StdGzip)
	assert.Equal(t, "rx-results", cfg.AWS.Bucket)
	assert.Equal(t, "postgres://localhost/rx", cfg.Postgres.URL)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RXNET_NETTING_WORKERS", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Netting: NettingConfig{WindowDays: 30},
			Output:  OutputConfig{Dir: "."},
			Logging: LoggingConfig{Format: "text"},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Netting.WindowDays = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.Netting.Workers = -2
	assert.Error(t, c.Validate())

	c = valid()
	c.Logging.Format = "xml"
	assert.Error(t, c.Validate())

	c = valid()
	c.Output.Dir = ""
	assert.Error(t, c.Validate())
}
