package main

import (
	"fmt"
	"time"
)

type Config struct {
	Host                      string        `env:"HOST,default=0.0.0.0"`
	Port                      int           `env:"PORT,default=8080"`
	LogLevel                  string        `env:"LOG_LEVEL,default=INFO"`
	ConnectionBufferSize      int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxLineBytes              int           `env:"MAX_LINE_BYTES,default=65536"`
	PresenceFormat            string        `env:"PRESENCE_FORMAT,default=map"`
	EnableModeration          bool          `env:"ENABLE_MODERATION,default=false"`
	ModerationCharReplacement string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
	MetricInterval            time.Duration `env:"METRIC_INTERVAL,default=30s"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	DebugPort                 int           `env:"DEBUG_PORT,default=0"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
