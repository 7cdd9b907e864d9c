package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterDedupesByID(t *testing.T) {
	r := New(nil)
	r.Register(AdapterManifest{ID: "slack-main", Platform: "slack"})
	r.Register(AdapterManifest{ID: "slack-main", Platform: "slack", PackID: "dup"})

	if len(r.All()) != 1 {
		t.Fatalf("expected 1 adapter after duplicate registration, got %d", len(r.All()))
	}
	m, ok := r.Get("slack-main")
	if !ok || m.PackID != "" {
		t.Errorf("expected first registration to win, got %+v", m)
	}
}

func TestLookupByPlatformFiltersByCapabilityPredicate(t *testing.T) {
	r := New(nil)
	r.Register(AdapterManifest{ID: "a", Platform: "slack", Capabilities: map[string]bool{"egress": true, "threads": false}})
	r.Register(AdapterManifest{ID: "b", Platform: "slack", Capabilities: map[string]bool{"egress": true, "threads": true}})
	r.Register(AdapterManifest{ID: "c", Platform: "teams", Capabilities: map[string]bool{"egress": true, "threads": true}})

	matches, err := r.LookupByPlatform("slack", "capabilities.egress && capabilities.threads")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "b" {
		t.Errorf("expected only adapter b to match, got %+v", matches)
	}
}

func TestLookupByPlatformEmptyPredicateMatchesAll(t *testing.T) {
	r := New(nil)
	r.Register(AdapterManifest{ID: "a", Platform: "slack"})
	r.Register(AdapterManifest{ID: "b", Platform: "slack"})

	matches, err := r.LookupByPlatform("slack", "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected both adapters, got %d", len(matches))
	}
}

func TestLoadManifestResolvesInclude(t *testing.T) {
	dir := t.TempDir()
	base := "adapters:\n  - id: base-adapter\n    platform: slack\n    capabilities:\n      egress: true\n"
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	top := "$include: base.yaml\n"
	topPath := filepath.Join(dir, "top.yaml")
	if err := os.WriteFile(topPath, []byte(top), 0o644); err != nil {
		t.Fatal(err)
	}

	manifests, err := LoadManifest(topPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(manifests) != 1 || manifests[0].ID != "base-adapter" {
		t.Errorf("expected included manifest to resolve, got %+v", manifests)
	}
}

func TestDiscoverSkipsInvalidPackWhenNotStrict(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(": not valid yaml :::"), 0o644); err != nil {
		t.Fatal(err)
	}
	good := "adapters:\n  - id: good\n    platform: telegram\n"
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(nil)
	if err := Discover(r, DiscoverOptions{Root: dir}); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, ok := r.Get("good"); !ok {
		t.Error("expected valid pack to register despite a broken sibling")
	}
}
