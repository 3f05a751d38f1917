package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/util"
	"gopkg.in/yaml.v3"
)

// Config represents one queue's configuration including tunable store and cursor options
type Config struct {
	// Queue layout
	QueueDir     string `yaml:"queue_dir" json:"queue.dir"`
	RollCycle    string `yaml:"roll_cycle" json:"roll.cycle"`
	EpochMS      int64  `yaml:"epoch_ms" json:"epoch.ms"`
	BlockSize    int64  `yaml:"block_size" json:"block.size"`
	IndexCount   int    `yaml:"index_count" json:"index.count"`     // 0 keeps the roll cycle's own
	IndexSpacing int    `yaml:"index_spacing" json:"index.spacing"` // 0 keeps the roll cycle's own
	ReadOnly     bool   `yaml:"read_only" json:"read.only"`

	// Store lifecycle
	TimeoutMS               int  `yaml:"timeout_ms" json:"timeout.ms"`
	RecoveryTimeoutMS       int  `yaml:"recovery_timeout_ms" json:"recovery.timeout.ms"`
	DeltaCheckpointInterval int  `yaml:"delta_checkpoint_interval" json:"delta.checkpoint.interval"`
	SourceID                int  `yaml:"source_id" json:"source.id"`
	DisableDiskSpaceCheck   bool `yaml:"disable_disk_space_check" json:"disk.space.check.disable"`

	// Bounds and caches
	ReduceTailerGarbage bool `yaml:"reduce_tailer_garbage" json:"reduce.tailer.garbage"`
	FirstLastRetryMax   int  `yaml:"first_last_retry_max" json:"first.last.retry.max"`
	ResourceCacheSize   int  `yaml:"resource_cache_size" json:"resource.cache.size"`

	// Cursors
	CursorIdleTimeoutMS   int    `yaml:"cursor_idle_timeout_ms" json:"cursor.idle.timeout.ms"`
	CursorSweepIntervalMS int    `yaml:"cursor_sweep_interval_ms" json:"cursor.sweep.interval.ms"`
	CheckpointDB          string `yaml:"checkpoint_db" json:"checkpoint.db"`

	// Retention
	RetentionCycles          int `yaml:"retention_cycles" json:"retention.cycles"`
	RetentionCheckIntervalMS int `yaml:"retention_check_interval_ms" json:"retention.check.interval.ms"`

	// Observability
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
}

// Default returns a normalized configuration for dir.
func Default(dir string) *Config {
	cfg := &Config{QueueDir: dir, LogLevel: util.LogLevelInfo}
	cfg.Normalize()
	return cfg
}

// Load reads a YAML or JSON file (by extension), applies CQ_* environment
// overrides and normalizes. An empty path falls back to CONFIG_PATH, then to defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{LogLevel: util.LogLevelInfo}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideEnvString(&cfg.QueueDir, "CQ_DIR")
	overrideEnvString(&cfg.RollCycle, "CQ_ROLL_CYCLE")
	overrideEnvInt64(&cfg.EpochMS, "CQ_EPOCH_MS")
	overrideEnvInt64(&cfg.BlockSize, "CQ_BLOCK_SIZE")
	overrideEnvBool(&cfg.ReadOnly, "CQ_READ_ONLY")
	overrideEnvInt(&cfg.TimeoutMS, "CQ_TIMEOUT_MS")
	overrideEnvBool(&cfg.ReduceTailerGarbage, "CQ_REDUCE_TAILER_GARBAGE")
	overrideEnvInt(&cfg.RetentionCycles, "CQ_RETENTION_CYCLES")
	overrideEnvString(&cfg.CheckpointDB, "CQ_CHECKPOINT_DB")
	overrideEnvBool(&cfg.EnableExporter, "CQ_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "CQ_EXPORTER_PORT")
	if v := os.Getenv("CQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
}

// Cycle resolves the configured roll cycle, applying index overrides.
func (cfg *Config) Cycle() rollcycle.RollCycle {
	rc, ok := rollcycle.ByName(cfg.RollCycle)
	if !ok {
		rc = rollcycle.Daily
	}
	if cfg.IndexCount == 0 && cfg.IndexSpacing == 0 {
		return rc
	}
	count, spacing := rc.IndexCount(), rc.IndexSpacing()
	if cfg.IndexCount > 0 {
		count = cfg.IndexCount
	}
	if cfg.IndexSpacing > 0 {
		spacing = cfg.IndexSpacing
	}
	return rollcycle.New(rc.Name(), rc.Format(), rc.LengthMs(), count, spacing)
}

func (cfg *Config) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutMS) * time.Millisecond
}

func (cfg *Config) RecoveryTimeout() time.Duration {
	return time.Duration(cfg.RecoveryTimeoutMS) * time.Millisecond
}

func (cfg *Config) CursorIdleTimeout() time.Duration {
	return time.Duration(cfg.CursorIdleTimeoutMS) * time.Millisecond
}

func (cfg *Config) CursorSweepInterval() time.Duration {
	return time.Duration(cfg.CursorSweepIntervalMS) * time.Millisecond
}

func (cfg *Config) RetentionCheckInterval() time.Duration {
	return time.Duration(cfg.RetentionCheckIntervalMS) * time.Millisecond
}
