// Package config loads the engine's runtime configuration, following the
// teacher's precedence order: environment variables override a JSON file,
// which overrides built-in defaults, then the result is validated with
// struct tags rather than hand-written range checks.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EngineConfig is the configuration enumerated in §6: buffer pool sizing,
// worker/queue topology, and query-to-queue placement policy.
type EngineConfig struct {
	BufferPoolCapacity int    `json:"buffer_pool_capacity" validate:"required,gt=0"`
	BufferSize         int    `json:"buffer_size" validate:"required,gt=0"`
	NumberOfWorkers    int    `json:"number_of_workers" validate:"required,gt=0"`
	NumberOfQueues     int    `json:"number_of_queues" validate:"required,gt=0,lteqfield=NumberOfWorkers"`
	QueryToQueuePolicy string `json:"query_to_queue_policy" validate:"required,oneof=round-robin explicit"`

	ControlPlaneAddr string `json:"control_plane_addr" validate:"omitempty,hostname_port"`
	MetricsAddr      string `json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the engine's built-in defaults, the lowest-priority
// source in the three-tier precedence order.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		BufferPoolCapacity: 1024,
		BufferSize:         4096,
		NumberOfWorkers:    4,
		NumberOfQueues:     2,
		QueryToQueuePolicy: "round-robin",
		ControlPlaneAddr:   ":8080",
		MetricsAddr:        ":9090",
	}
}

var validate = validator.New()

// Load builds an EngineConfig from, in ascending priority: built-in
// defaults, an optional JSON file at path (skipped if path is empty or the
// file does not exist), then QENGINE_*-prefixed environment variables.
// The result is validated before being returned.
func Load(path string) (EngineConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return EngineConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

const envPrefix = "QENGINE_"

func applyEnvOverrides(cfg *EngineConfig) {
	if v, ok := envInt("BUFFER_POOL_CAPACITY"); ok {
		cfg.BufferPoolCapacity = v
	}
	if v, ok := envInt("BUFFER_SIZE"); ok {
		cfg.BufferSize = v
	}
	if v, ok := envInt("NUMBER_OF_WORKERS"); ok {
		cfg.NumberOfWorkers = v
	}
	if v, ok := envInt("NUMBER_OF_QUEUES"); ok {
		cfg.NumberOfQueues = v
	}
	if v, ok := os.LookupEnv(envPrefix + "QUERY_TO_QUEUE_POLICY"); ok {
		cfg.QueryToQueuePolicy = v
	}
	if v, ok := os.LookupEnv(envPrefix + "CONTROL_PLANE_ADDR"); ok {
		cfg.ControlPlaneAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
}

func envInt(suffix string) (int, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}
