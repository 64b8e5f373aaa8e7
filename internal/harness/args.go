package harness

import (
	"fmt"
	"time"
)

// args is a step's argument map as decoded from YAML.
type args map[string]any

func (a args) str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", key, v)
	}
	return s, nil
}

func (a args) optStr(key string, def ...string) string {
	if s, err := a.str(key); err == nil {
		return s
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func (a args) integer(key string) (int64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("argument %q: want integer, got %T", key, v)
	}
	return n, nil
}

func (a args) optInt(key string, def int64) (int64, error) {
	if _, ok := a[key]; !ok {
		return def, nil
	}
	return a.integer(key)
}

func (a args) optBool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

func (a args) duration(key string) (time.Duration, error) {
	s, err := a.str(key)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", key, err)
	}
	return d, nil
}

func (a args) strings(key string) ([]string, error) {
	raw, ok := a[key].([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q: want list of strings", key)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q[%d]: want string, got %T", key, i, v)
		}
		out[i] = s
	}
	return out, nil
}

func (a args) list(key string) ([]args, error) {
	raw, ok := a[key].([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q: want list", key)
	}
	out := make([]args, len(raw))
	for i, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("argument %q[%d]: want mapping, got %T", key, i, v)
		}
		out[i] = args(m)
	}
	return out, nil
}

// toInt64 accepts the integer shapes YAML and JSON decoding produce.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
