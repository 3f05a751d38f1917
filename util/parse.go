package util

import (
	"strconv"
	"strings"
)

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(str); err == nil {
		return v
	}
	return fallback
}

func ParseInt64(str string, fallback int64) int64 {
	if v, err := strconv.ParseInt(str, 10, 64); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(str); err == nil {
		return v
	}
	return fallback
}

// ParseIndex accepts a decimal index or a 0x-prefixed hex one, the form the CLI prints.
func ParseIndex(str string) (int64, error) {
	str = strings.TrimSpace(str)
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		u, err := strconv.ParseUint(str[2:], 16, 64)
		return int64(u), err
	}
	return strconv.ParseInt(str, 10, 64)
}
