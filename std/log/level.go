package log

import (
	"errors"
	"strings"
)

type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelFatal Level = 12
	// LevelNone disables logging.
	LevelNone Level = 16
)

var ErrInvalidLevel = errors.New("invalid log level")

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
	LevelNone:  "NONE",
}

// ParseLevel parses a level name. Names are case-insensitive and WARNING
// is accepted as an alias of WARN.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return LevelWarn, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelInfo, ErrInvalidLevel
}

func (level Level) String() string {
	if n, ok := levelNames[level]; ok {
		return n
	}
	return "UNKNOWN"
}
