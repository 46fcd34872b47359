// Package config loads the run configuration: built-in and catalog
// scenarios, an optional config file and command-line flags, in that order of
// precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupSetting searches for a value in settings using multiple candidate keys.
// It performs case-insensitive matching by also checking lowercase versions.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		lower := strings.ToLower(key)
		if val, ok := settings[lower]; ok {
			return val, true
		}
	}
	return nil, false
}

// asString converts an interface value to a string.
// Handles nil, string, fmt.Stringer, []byte, and falls back to fmt.Sprint.
func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// asInt converts an interface value to an int.
// Handles all numeric types and string representations.
func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, err
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

// asFloat64 converts an interface value to a float64.
// Handles all numeric types and string representations.
func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
}

// asBool converts an interface value to a bool.
// Handles bool and string representations.
func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, err
		}
		return b, nil
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration converts an interface value to a time.Duration.
// Handles time.Duration, string (parsed via time.ParseDuration), and numeric types
// (interpreted as seconds).
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, err
		}
		return d, nil
	case int, int8, int16, int32, int64:
		iv, _ := asInt(v)
		return time.Duration(iv) * time.Second, nil
	case uint, uint8, uint16, uint32, uint64:
		iv, _ := asInt(v)
		return time.Duration(iv) * time.Second, nil
	case float32, float64:
		iv, _ := asInt(v)
		return time.Duration(iv) * time.Second, nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
}

// asStringSlice converts an interface value to a []string.
// Handles []string, []interface{}, and single string values.
func asStringSlice(value interface{}) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

// asIntSlice converts a list of numbers, or a comma separated string, to
// []int.
func asIntSlice(value interface{}) ([]int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []int:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parts := strings.Split(v, ",")
		result := make([]int, len(parts))
		for i, part := range parts {
			n, err := asInt(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = n
		}
		return result, nil
	case []interface{}:
		result := make([]int, len(v))
		for i, item := range v {
			n, err := asInt(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = n
		}
		return result, nil
	default:
		n, err := asInt(value)
		if err != nil {
			return nil, fmt.Errorf("unsupported int slice type %T", value)
		}
		return []int{n}, nil
	}
}

// toStringKeyMap converts a map with various key types to map[string]interface{}.
// Keys are normalized to lowercase.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return result, nil
}

// asUint64 converts an interface value to a non-negative uint64.
func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case uint64:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		return strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	}
	i, err := asInt(value)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("must be >= 0, got %d", i)
	}
	return uint64(i), nil
}

// section reads typed values out of one level of the settings tree and
// remembers the first conversion error, prefixed with the key path.
type section struct {
	settings map[string]interface{}
	prefix   string
	err      error
}

func newSection(settings map[string]interface{}, prefix string) *section {
	return &section{settings: settings, prefix: prefix}
}

// sub returns the nested section under key, or nil when absent.
func (s *section) sub(key string) *section {
	raw, ok := lookupSetting(s.settings, key)
	if !ok || s.err != nil {
		return nil
	}
	m, err := toStringKeyMap(raw)
	if err != nil {
		s.fail(key, err)
		return nil
	}
	return &section{settings: m, prefix: s.prefix + key + "."}
}

func (s *section) fail(key string, err error) {
	if s.err == nil {
		s.err = fmt.Errorf("%s%s: %w", s.prefix, key, err)
	}
}

func (s *section) str(dst *string, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asString(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = strings.TrimSpace(val)
	}
}

func (s *section) num(dst *int, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asInt(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) num64(dst *int64, keys ...string) {
	if _, ok := lookupSetting(s.settings, keys...); ok {
		var v int
		s.num(&v, keys...)
		*dst = int64(v)
	}
}

func (s *section) unsigned(dst *uint64, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asUint64(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) float(dst *float64, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asFloat64(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) flag(dst *bool, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asBool(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) duration(dst *time.Duration, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asDuration(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) list(dst *[]string, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}

func (s *section) ints(dst *[]int, keys ...string) {
	if raw, ok := lookupSetting(s.settings, keys...); ok {
		val, err := asIntSlice(raw)
		if err != nil {
			s.fail(keys[0], err)
			return
		}
		*dst = val
	}
}
