package util_test

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/downfa11-org/cursus-queue/util"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	util.SetOutput(&buf)
	defer util.SetOutput(os.Stderr)
	defer util.SetLevel(util.LogLevelInfo)

	util.SetLevel(util.LogLevelWarn)
	util.Info("hidden %d", 1)
	util.Warn("shown %d", 2)
	util.Error("shown %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
	assert.Contains(t, out, "[ERROR] shown 3")
	assert.Equal(t, util.LogLevelWarn, util.Level())
}

func TestLogLevelUnmarshal(t *testing.T) {
	var cfg struct {
		Level util.LogLevel `yaml:"level" json:"level"`
	}
	assert.NoError(t, yaml.Unmarshal([]byte("level: debug"), &cfg))
	assert.Equal(t, util.LogLevelDebug, cfg.Level)

	assert.NoError(t, yaml.Unmarshal([]byte("level: 3"), &cfg))
	assert.Equal(t, util.LogLevelError, cfg.Level)

	assert.NoError(t, yaml.Unmarshal([]byte("level: 2"), &cfg))
	assert.Equal(t, util.LogLevelWarn, cfg.Level)

	assert.NoError(t, yaml.Unmarshal([]byte(`level: "0"`), &cfg))
	assert.Equal(t, util.LogLevelDebug, cfg.Level)

	assert.Error(t, yaml.Unmarshal([]byte("level: 9"), &cfg))
	assert.Error(t, yaml.Unmarshal([]byte("level: [debug]"), &cfg))

	assert.NoError(t, json.Unmarshal([]byte(`{"level":3}`), &cfg))
	assert.Equal(t, util.LogLevelError, cfg.Level)
	assert.Error(t, json.Unmarshal([]byte(`{"level":7}`), &cfg))

	assert.Equal(t, util.LogLevelError, util.ParseLogLevel("3"))
	assert.Equal(t, util.LogLevelDebug, util.ParseLogLevel(" 0 "))
	assert.Equal(t, util.LogLevelInfo, util.ParseLogLevel("12"))

	assert.Equal(t, util.LogLevelWarn, util.ParseLogLevel("WARNING"))
	assert.Equal(t, util.LogLevelInfo, util.ParseLogLevel("verbose"))
	assert.Equal(t, "error", util.LogLevelError.String())
}

func TestSetTimeProvider(t *testing.T) {
	clock := util.NewSetTimeProvider(1000)
	assert.Equal(t, int64(1000), clock.CurrentTimeMillis())

	clock.Advance(2 * time.Second)
	assert.Equal(t, int64(3000), clock.CurrentTimeMillis())

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	clock.SetTime(day)
	assert.Equal(t, day.UnixMilli(), clock.CurrentTimeMillis())

	var sys util.SystemTimeProvider
	assert.InDelta(t, time.Now().UnixMilli(), sys.CurrentTimeMillis(), 1000)
}

func TestPauserAwait(t *testing.T) {
	p := util.NewPauser(time.Millisecond, 4*time.Millisecond)

	calls := 0
	ok := p.Await(time.Second, func() bool {
		calls++
		return calls == 20
	})
	assert.True(t, ok)
	assert.Equal(t, 20, calls)

	start := time.Now()
	ok = p.Await(30*time.Millisecond, func() bool { return false })
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
