package config

import (
	"os"
	"strings"

	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/util"
)

const minBlockSize = 64 << 10

func (cfg *Config) Normalize() {
	// queue layout
	if strings.TrimSpace(cfg.QueueDir) == "" {
		cfg.QueueDir = "queue-data"
	}
	cfg.RollCycle = strings.ToUpper(strings.TrimSpace(cfg.RollCycle))
	if cfg.RollCycle == "" {
		cfg.RollCycle = rollcycle.Daily.Name()
	}
	if _, ok := rollcycle.ByName(cfg.RollCycle); !ok {
		util.Warn("Invalid roll_cycle '%s', defaulting to '%s'", cfg.RollCycle, rollcycle.Daily.Name())
		cfg.RollCycle = rollcycle.Daily.Name()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 64 << 20 // 64MB
	}
	if cfg.BlockSize < minBlockSize {
		util.Warn("block_size %d below minimum, raising to %d", cfg.BlockSize, minBlockSize)
		cfg.BlockSize = minBlockSize
	}
	if !validIndexParam(cfg.IndexCount) {
		util.Warn("index_count %d is not a power of two, using the roll cycle default", cfg.IndexCount)
		cfg.IndexCount = 0
	}
	if !validIndexParam(cfg.IndexSpacing) {
		util.Warn("index_spacing %d is not a power of two, using the roll cycle default", cfg.IndexSpacing)
		cfg.IndexSpacing = 0
	}

	// store lifecycle
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 10000
	}
	if cfg.RecoveryTimeoutMS <= 0 {
		cfg.RecoveryTimeoutMS = 20000
	}
	if cfg.DeltaCheckpointInterval <= 0 {
		cfg.DeltaCheckpointInterval = 64
	}

	// bounds and caches
	if cfg.FirstLastRetryMax <= 0 {
		cfg.FirstLastRetryMax = 8
	}
	if cfg.ResourceCacheSize <= 0 {
		cfg.ResourceCacheSize = 128
	}

	// cursors
	if cfg.CursorIdleTimeoutMS <= 0 {
		cfg.CursorIdleTimeoutMS = 60000
	}
	if cfg.CursorSweepIntervalMS <= 0 {
		cfg.CursorSweepIntervalMS = 10000
	}

	// retention
	if cfg.RetentionCycles < 0 {
		cfg.RetentionCycles = 0
	}
	if cfg.RetentionCheckIntervalMS <= 0 {
		cfg.RetentionCheckIntervalMS = 300000
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
}

// zero means "use the roll cycle's value"
func validIndexParam(n int) bool {
	return n == 0 || (n > 0 && n&(n-1) == 0)
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt64(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
