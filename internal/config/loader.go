package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the top-level directive that pulls in other files. It
// takes one path or a list; relative paths resolve against the including
// file and may be globs such as "conf.d/*.yaml".
const includeKey = "$include"

// wholeRef matches a value that is nothing but one environment reference.
// Such values take the type of what they expand to, so "port: ${PORT}"
// yields an integer.
var wholeRef = regexp.MustCompile(`^\$\{[A-Za-z_][A-Za-z0-9_]*(:-[^}]*)?\}$`)

// LoadRaw reads path and everything it includes into one merged map, with
// environment references in values expanded.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	return loadFile(path, nil)
}

// loadFile reads one file and its includes. Included files merge in order
// and the including file is applied last, so it wins. chain holds the files
// currently being loaded, for cycle detection.
func loadFile(path string, chain []string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(chain, absPath) {
		return nil, fmt.Errorf("config include cycle: %s", strings.Join(append(chain, absPath), " -> "))
	}
	chain = append(chain, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseDocument(data, absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	expandValues(raw)

	includes, err := includePaths(raw, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	merged := map[string]any{}
	for _, inc := range includes {
		incRaw, err := loadFile(inc, chain)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	return mergeMaps(merged, raw), nil
}

// parseDocument decodes a single YAML document, or JSON5 for .json and
// .json5 files.
func parseDocument(data []byte, path string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// expandValues replaces ${NAME}, ${NAME:-fallback} and $NAME in string
// values, in place. Keys are never expanded and "$$" is a literal "$".
func expandValues(m map[string]any) {
	for key, value := range m {
		m[key] = expandValue(value)
	}
}

func expandValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		expandValues(typed)
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = expandValue(item)
		}
		return typed
	case string:
		return expandString(typed)
	default:
		return value
	}
}

func expandString(s string) any {
	if !strings.Contains(s, "$") {
		return s
	}
	out := os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		if key, fallback, ok := strings.Cut(name, ":-"); ok {
			if v := os.Getenv(key); v != "" {
				return v
			}
			return fallback
		}
		return os.Getenv(name)
	})
	if !wholeRef.MatchString(s) {
		return out
	}
	var typed any
	if err := yaml.Unmarshal([]byte(out), &typed); err == nil {
		switch typed.(type) {
		case bool, int, int64, uint64, float64:
			return typed
		}
	}
	return out
}

// includePaths removes the include directive from raw and returns the
// absolute files it names. A glob matching nothing is not an error; a
// missing literal path fails when it is read.
func includePaths(raw map[string]any, baseDir string) ([]string, error) {
	value, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	var entries []string
	switch typed := value.(type) {
	case nil:
	case string:
		entries = []string{typed}
	case []any:
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			entries = append(entries, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	var paths []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(baseDir, entry)
		}
		if !strings.ContainsAny(entry, "*?[") {
			paths = append(paths, entry)
			continue
		}
		matches, err := filepath.Glob(entry)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", includeKey, entry, err)
		}
		slices.Sort(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}

// mergeMaps merges src into dst. Nested maps merge key by key; any other
// value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig decodes the merged map into Config, rejecting unknown
// fields.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
