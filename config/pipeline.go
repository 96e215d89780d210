package config

import (
	"fmt"
	"time"
)

// PipelineConfig tunes the drain workers and the schedule of the periodic
// jobs run by the service.
type PipelineConfig struct {
	Workers         int           `json:"workers"`
	RouteTimeout    time.Duration `json:"route_timeout"`
	ConflictRetries int           `json:"conflict_retries"`
	BulkBaseline    int           `json:"bulk_baseline"`

	DrainIntervalSeconds      int `json:"drain_interval_seconds"`
	ClusteringIntervalSeconds int `json:"clustering_interval_seconds"`
	ConsensusIntervalSeconds  int `json:"consensus_interval_seconds"`
	SyncIntervalSeconds       int `json:"sync_interval_seconds"`
}

// DrainInterval defaults to 30 seconds.
func (c PipelineConfig) DrainInterval() time.Duration {
	return seconds(c.DrainIntervalSeconds, 30)
}

// ClusteringInterval defaults to 10 minutes.
func (c PipelineConfig) ClusteringInterval() time.Duration {
	return seconds(c.ClusteringIntervalSeconds, 600)
}

// ConsensusInterval defaults to 5 minutes.
func (c PipelineConfig) ConsensusInterval() time.Duration {
	return seconds(c.ConsensusIntervalSeconds, 300)
}

// SyncInterval is how often persisted manager actions are read back from
// the directory. Defaults to one minute.
func (c PipelineConfig) SyncInterval() time.Duration {
	return seconds(c.SyncIntervalSeconds, 60)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Validate rejects negative settings.
func (c PipelineConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("pipeline: workers must not be negative")
	}
	if c.RouteTimeout < 0 {
		return fmt.Errorf("pipeline: route_timeout must not be negative")
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("pipeline: conflict_retries must not be negative")
	}
	return nil
}
