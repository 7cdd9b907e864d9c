package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
)

// Registry holds discovered adapter manifests, deduped by ID, first-wins
// with a warning on collision — the same discovery discipline as a
// plugin registry that must never let a second pack silently shadow an
// already-registered adapter.
type Registry struct {
	logger   *slog.Logger
	adapters map[string]AdapterManifest
	order    []string
}

// New builds an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, adapters: make(map[string]AdapterManifest)}
}

// Register adds m, logging and discarding a duplicate ID rather than
// returning an error: a broken pack must never stop the gateway from
// starting, per the "missing or invalid pack never fails startup unless
// strict mode" rule enforced by the caller.
func (r *Registry) Register(m AdapterManifest) {
	if m.ID == "" {
		r.logger.Warn("registry: skipping adapter manifest with empty id", "pack_id", m.PackID)
		return
	}
	if _, exists := r.adapters[m.ID]; exists {
		r.logger.Warn("registry: duplicate adapter id, keeping first registration", "id", m.ID, "pack_id", m.PackID)
		return
	}
	r.adapters[m.ID] = m
	r.order = append(r.order, m.ID)
}

// Get returns the manifest registered under id.
func (r *Registry) Get(id string) (AdapterManifest, bool) {
	m, ok := r.adapters[id]
	return m, ok
}

// All returns every registered manifest in registration order.
func (r *Registry) All() []AdapterManifest {
	out := make([]AdapterManifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// LookupByPlatform returns every manifest matching platform whose
// capability set satisfies predicate — a CEL expression evaluated
// against the manifest's capabilities map, e.g. "capabilities.egress &&
// capabilities.threads". An empty predicate matches unconditionally.
func (r *Registry) LookupByPlatform(platform, predicate string) ([]AdapterManifest, error) {
	var eval func(AdapterManifest) (bool, error)
	if strings.TrimSpace(predicate) == "" {
		eval = func(AdapterManifest) (bool, error) { return true, nil }
	} else {
		prog, err := compileCapabilityPredicate(predicate)
		if err != nil {
			return nil, err
		}
		eval = func(m AdapterManifest) (bool, error) { return evalCapabilityPredicate(prog, m) }
	}

	var matches []AdapterManifest
	for _, id := range r.order {
		m := r.adapters[id]
		if m.Platform != platform {
			continue
		}
		ok, err := eval(m)
		if err != nil {
			return nil, fmt.Errorf("registry: evaluate predicate for %s: %w", m.ID, err)
		}
		if ok {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func compileCapabilityPredicate(predicate string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("capabilities", cel.MapType(cel.StringType, cel.BoolType)))
	if err != nil {
		return nil, fmt.Errorf("registry: build cel env: %w", err)
	}
	ast, issues := env.Compile(predicate)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("registry: compile predicate %q: %w", predicate, issues.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("registry: build cel program: %w", err)
	}
	return prog, nil
}

func evalCapabilityPredicate(prog cel.Program, m AdapterManifest) (bool, error) {
	caps := make(map[string]any, len(m.Capabilities))
	for k, v := range m.Capabilities {
		caps[k] = v
	}
	out, _, err := prog.Eval(map[string]any{"capabilities": caps})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("registry: predicate did not evaluate to a bool")
	}
	return result, nil
}

// DiscoverOptions controls pack discovery from disk.
type DiscoverOptions struct {
	Root        string
	ExplicitPaths []string
	Strict      bool
}

// Discover walks opts.Root for *.yaml/*.yml manifests and *.zip packs,
// plus any explicitly listed paths, registering every adapter it finds.
// A pack that fails to parse is logged and skipped unless opts.Strict,
// in which case the first bad pack aborts discovery.
func Discover(r *Registry, opts DiscoverOptions) error {
	var candidates []string
	if opts.Root != "" {
		entries, err := os.ReadDir(opts.Root)
		if err != nil {
			if opts.Strict {
				return fmt.Errorf("registry: read packs root %s: %w", opts.Root, err)
			}
			r.logger.Warn("registry: packs root unreadable, skipping", "root", opts.Root, "error", err)
		} else {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				candidates = append(candidates, filepath.Join(opts.Root, e.Name()))
			}
		}
	}
	candidates = append(candidates, opts.ExplicitPaths...)

	for _, path := range candidates {
		manifests, err := loadPack(path)
		if err != nil {
			if opts.Strict {
				return fmt.Errorf("registry: load pack %s: %w", path, err)
			}
			r.logger.Warn("registry: skipping invalid pack", "path", path, "error", err)
			continue
		}
		for _, m := range manifests {
			r.Register(m)
		}
	}
	return nil
}

func loadPack(path string) ([]AdapterManifest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return LoadZipManifest(path)
	case ".yaml", ".yml":
		return LoadManifest(path)
	default:
		return nil, fmt.Errorf("unsupported pack extension %q", filepath.Ext(path))
	}
}
