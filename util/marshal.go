package util

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var errLogLevel = fmt.Errorf("log_level must be a string (debug/info/warn/error) or integer (0-3)")

// ParseLogLevel maps a level name or number (0-3) to a LogLevel; anything
// else falls back to info.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if i, err := strconv.Atoi(s); err == nil {
		if l := LogLevel(i); l >= LogLevelDebug && l <= LogLevelError {
			return l
		}
		return LogLevelInfo
	}
	switch s {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "info"
	}
}

// UnmarshalYAML implements custom YAML unmarshaling for LogLevel
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errLogLevel
	}
	if value.Tag == "!!int" {
		var i int
		if err := value.Decode(&i); err != nil || i < int(LogLevelDebug) || i > int(LogLevelError) {
			return errLogLevel
		}
		*l = LogLevel(i)
		return nil
	}
	*l = ParseLogLevel(value.Value)
	return nil
}

// MarshalYAML writes the level by name so dumped configs stay readable.
func (l LogLevel) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// UnmarshalJSON implements custom JSON unmarshaling for LogLevel
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = ParseLogLevel(s)
		return nil
	}

	var i int
	if err := json.Unmarshal(data, &i); err != nil || i < int(LogLevelDebug) || i > int(LogLevelError) {
		return errLogLevel
	}
	*l = LogLevel(i)
	return nil
}
