package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wmo-raf/wis2watch/internal/config"
	"github.com/wmo-raf/wis2watch/internal/state"
)

func TestOpenStorageUnsupportedType(t *testing.T) {
	_, err := openStorage(context.Background(), config.StorageConfig{Type: "mongodb"})
	require.Error(t, err)
}

func TestOpenPublisherRedisRequiresRedisStateStore(t *testing.T) {
	cfg := &config.Config{StatusBus: config.StatusBusConfig{Transport: "redis"}}
	_, err := openPublisher(cfg, state.NewMemoryStore())
	require.Error(t, err)
}

func TestOpenPublisherNoneByDefault(t *testing.T) {
	cfg := &config.Config{}
	pub, err := openPublisher(cfg, state.NewMemoryStore())
	require.NoError(t, err)
	require.Nil(t, pub)
}

func TestOpenPublisherUnsupportedTransport(t *testing.T) {
	cfg := &config.Config{StatusBus: config.StatusBusConfig{Transport: "kafka"}}
	_, err := openPublisher(cfg, state.NewMemoryStore())
	require.Error(t, err)
}
