package config

import (
	"reflect"
	"sort"
	"strings"
)

// Settings are addressed by dot-separated JSON paths such as
// "pipeline.timeouts.storage". The set of valid paths, and which of them
// hold credentials, comes from the Config struct tags.
var (
	knownKeys  = map[string]bool{}
	secretKeys = map[string]bool{}
)

func init() {
	walkKeys(reflect.TypeOf(Config{}), "")
}

func walkKeys(t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := joinKey(prefix, name)
		if f.Type.Kind() == reflect.Struct {
			walkKeys(f.Type, key)
			continue
		}
		knownKeys[key] = true
		if f.Tag.Get("secret") == "true" {
			secretKeys[key] = true
		}
	}
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Keys returns every settable key, sorted.
func Keys() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsKnownKey reports whether key names a Config field.
func IsKnownKey(key string) bool { return knownKeys[key] }

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool { return secretKeys[key] }

// Flatten maps nested JSON objects to dot-separated keys. Arrays are
// leaves: pipeline.categories stays one value.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(joinKey(prefix, k), child)
				continue
			}
			out[joinKey(prefix, k)] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A key that is both a leaf and a
// prefix ("a" and "a.b") resolves to the nested object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isObject := node[leaf].(map[string]any); !isObject {
			node[leaf] = v
		}
	}
	return out
}

// MaskSecrets copies flat, replacing non-empty secrets with "***" and
// their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			out[k] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
