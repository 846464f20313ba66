package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joeycumines/logiface"
)

// Config is the pipeline configuration, as read from a YAML file.
//
//	highWaterMark: 64
//	logLevel: debug
//	stages:
//	  - type: grep
//	    value: ^[a-z]
//	  - type: upper
//	  - type: head
//	    count: 10
//	metrics: true
type Config struct {
	LogLevel      string        `yaml:"logLevel,omitempty"`
	Stages        []StageConfig `yaml:"stages"`
	HighWaterMark int           `yaml:"highWaterMark,omitempty"`
	Metrics       bool          `yaml:"metrics,omitempty"`
}

// StageConfig configures a single line stage.
type StageConfig struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// parseStage parses the command line form of a stage, type[=argument].
func parseStage(s string) (StageConfig, error) {
	typ, arg, hasArg := strings.Cut(s, "=")
	sc := StageConfig{Type: typ}
	switch typ {
	case stageHead, stageRate:
		if !hasArg {
			return sc, fmt.Errorf("stage %q requires a count", typ)
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return sc, fmt.Errorf("stage %q: invalid count: %w", typ, err)
		}
		sc.Count = n
	default:
		sc.Value = arg
	}
	return sc, nil
}

// parseLevel accepts the short syslog keywords used by [logiface.Level],
// plus "error" and "warn".
func parseLevel(s string) (logiface.Level, error) {
	switch s = strings.ToLower(s); s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	}
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
