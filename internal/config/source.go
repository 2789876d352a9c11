package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source resolves environment-style keys. Precedence: process environment,
// then the overlay file, then the caller's fallback.
type Source struct {
	lookup func(string) (string, bool)
	file   map[string]string
}

func NewSource(lookup func(string) (string, bool), file map[string]string) Source {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if file == nil {
		file = map[string]string{}
	}
	return Source{lookup: lookup, file: file}
}

// EnvSource reads the process environment, overlaid on the YAML file at path
// when path is non-empty.
func EnvSource(path string) (Source, error) {
	file, err := LoadOverlay(path)
	if err != nil {
		return Source{}, err
	}
	return NewSource(os.LookupEnv, file), nil
}

// MapSource is a Source backed only by values.
func MapSource(values map[string]string) Source {
	return NewSource(func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil)
}

// LoadOverlay parses a flat YAML mapping of KEY: value pairs.
func LoadOverlay(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return map[string]string{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read llm config %s: %w", path, err)
	}
	return ParseOverlay(raw)
}

func ParseOverlay(raw []byte) (map[string]string, error) {
	parsed := map[string]any{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse llm config: %w", err)
	}
	out := make(map[string]string, len(parsed))
	for key, value := range parsed {
		switch typed := value.(type) {
		case nil:
			continue
		case string:
			out[strings.TrimSpace(key)] = typed
		case bool, int, int64, float64:
			out[strings.TrimSpace(key)] = fmt.Sprint(typed)
		default:
			return nil, fmt.Errorf("parse llm config: key %q must be a scalar", key)
		}
	}
	return out, nil
}

func (s Source) Get(key string) string {
	if s.lookup != nil {
		if value, ok := s.lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(s.file[key])
}

// First returns the first non-empty value among keys.
func (s Source) First(keys ...string) string {
	for _, key := range keys {
		if value := s.Get(key); value != "" {
			return value
		}
	}
	return ""
}

func (s Source) String(key, fallback string) string {
	if value := s.Get(key); value != "" {
		return value
	}
	return fallback
}

func (s Source) Int(key string, fallback int) int {
	value, err := strconv.Atoi(s.Get(key))
	if err != nil {
		return fallback
	}
	return value
}

// PositiveInt falls back when the value is missing, malformed, or <= 0.
func (s Source) PositiveInt(key string, fallback int) int {
	value := s.Int(key, fallback)
	if value <= 0 {
		return fallback
	}
	return value
}

func (s Source) Float(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(s.Get(key), 64)
	if err != nil {
		return fallback
	}
	return value
}

func (s Source) Bool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(s.Get(key))
	if err != nil {
		return fallback
	}
	return value
}
