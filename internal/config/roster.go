package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"xalpha/internal/model"
)

//go:embed sources.yaml
var defaultRoster []byte

const (
	extraSourceTag      = "自定义"
	extraSourcePriority = 3
)

type rosterFile struct {
	Sources []model.Source `yaml:"sources"`
}

// LoadRoster resolves the monitored sources: the roster file (or the embedded
// default) followed by any extra handles not already present.
func LoadRoster(cfg SourcesConfig) ([]model.Source, error) {
	data := defaultRoster
	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read sources file: %w", err)
		}
		data = raw
	}

	roster, err := ParseRoster(data)
	if err != nil {
		return nil, err
	}
	return appendExtra(roster, cfg.Extra), nil
}

// ParseRoster decodes a YAML roster document.
func ParseRoster(data []byte) ([]model.Source, error) {
	var doc rosterFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Sources))
	out := make([]model.Source, 0, len(doc.Sources))
	for i, src := range doc.Sources {
		src.Handle = strings.TrimPrefix(strings.TrimSpace(src.Handle), "@")
		if src.Handle == "" {
			return nil, fmt.Errorf("sources[%d]: username is required", i)
		}
		key := strings.ToLower(src.Handle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if src.Tags == nil {
			src.Tags = []string{}
		}
		out = append(out, src)
	}
	return out, nil
}

func appendExtra(roster []model.Source, extra []string) []model.Source {
	for _, handle := range extra {
		handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
		if handle == "" || hasHandle(roster, handle) {
			continue
		}
		roster = append(roster, model.Source{
			Handle:   handle,
			Tags:     []string{extraSourceTag},
			Priority: extraSourcePriority,
		})
	}
	return roster
}

func hasHandle(roster []model.Source, handle string) bool {
	for _, src := range roster {
		if strings.EqualFold(src.Handle, handle) {
			return true
		}
	}
	return false
}
