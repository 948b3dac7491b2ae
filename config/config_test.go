package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.GRPC.Addr)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100*time.Millisecond, cfg.Match.Interval)
	assert.EqualValues(t, 1<<16, cfg.Retire.Capacity)
	assert.Equal(t, "kafka-go", cfg.Broadcast.Client)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broadcast.Brokers)
	assert.False(t, cfg.Simulator.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grpc:
  addr: ":6000"
match:
  interval: 2s
broadcast:
  enabled: true
  client: sarama
  brokers: ["k1:9092", "k2:9092"]
simulator:
  workers: 8
`), 0o600))

	t.Setenv("STOCKBOOK_HTTP_ADDR", ":9090")
	t.Setenv("STOCKBOOK_SIMULATOR_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.GRPC.Addr)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.Match.Interval)
	assert.True(t, cfg.Broadcast.Enabled)
	assert.Equal(t, "sarama", cfg.Broadcast.Client)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broadcast.Brokers)
	assert.Equal(t, 2, cfg.Simulator.Workers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STOCKBOOK_BROADCAST_CLIENT", "carrier-pigeon")
	_, err := Load("")
	assert.True(t, errors.Is(err, ErrUnknownClient))

	t.Setenv("STOCKBOOK_BROADCAST_CLIENT", "sarama")
	t.Setenv("STOCKBOOK_RETIRE_CAPACITY", "1000")
	_, err = Load("")
	assert.True(t, errors.Is(err, ErrRetireSize))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
