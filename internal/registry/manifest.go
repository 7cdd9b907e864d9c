// Package registry discovers and holds adapter packs: YAML manifests
// (optionally composed with $include) or zip archives, each declaring one or more
// adapters by provider_type, component_ref, capabilities and flows.
package registry

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// AdapterManifest describes one adapter entry inside a pack manifest.
type AdapterManifest struct {
	ID           string            `yaml:"id"`
	PackID       string            `yaml:"pack_id"`
	PackVersion  string            `yaml:"pack_version"`
	Platform     string            `yaml:"platform"`
	ProviderType string            `yaml:"provider_type"`
	ComponentRef string            `yaml:"component_ref"`
	Capabilities map[string]bool   `yaml:"capabilities"`
	Flows        map[string]string `yaml:"flows"`
	Metadata     map[string]string `yaml:"metadata"`
}

// packFile is the top-level shape of a pack manifest YAML document.
type packFile struct {
	Adapters []AdapterManifest `yaml:"adapters"`
}

// LoadManifest reads a YAML pack manifest, resolving $include directives
// relative to the manifest's own directory, with cycle detection.
func LoadManifest(path string) ([]AdapterManifest, error) {
	raw, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: re-marshal merged manifest %s: %w", path, err)
	}
	var pf packFile
	if err := yaml.Unmarshal(payload, &pf); err != nil {
		return nil, fmt.Errorf("registry: decode manifest %s: %w", path, err)
	}
	return pf.Adapters, nil
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("registry: include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.Expand(string(data), func(k string) string {
		if k == "include" {
			return includeKey
		}
		return os.Getenv(k)
	})

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	merged = mergeMaps(merged, raw)
	return merged, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)
	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("registry: $include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("registry: $include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// LoadZipManifest reads adapters.yaml (or adapters.yml) from the root of
// a zip-archived pack. Zip packs do not support $include — they are
// expected to ship a single, already-composed manifest.
func LoadZipManifest(path string) ([]AdapterManifest, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open zip pack %s: %w", path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if name != "adapters.yaml" && name != "adapters.yml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("registry: open %s in %s: %w", f.Name, path, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("registry: read %s in %s: %w", f.Name, path, err)
		}
		var pf packFile
		if err := yaml.Unmarshal(bytes.TrimSpace(data), &pf); err != nil {
			return nil, fmt.Errorf("registry: decode %s in %s: %w", f.Name, path, err)
		}
		return pf.Adapters, nil
	}
	return nil, fmt.Errorf("registry: no adapters.yaml found in zip pack %s", path)
}
