package modes

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMode(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAllReturnsEmptySetWhenDirMissing(t *testing.T) {
	modes, err := LoadAll(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(modes) != 0 {
		t.Fatalf("len(modes) = %d, want 0", len(modes))
	}
}

func TestLoadAllResolvesSimpleMode(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "default", `{"observationTypes":["decision","bugfix"],"concepts":["auth"]}`)

	modes, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	m, ok := modes["default"]
	if !ok {
		t.Fatalf("expected a \"default\" mode")
	}
	if len(m.ObservationTypes) != 2 || m.ObservationTypes[0] != "decision" {
		t.Fatalf("ObservationTypes = %v", m.ObservationTypes)
	}
}

func TestLoadAllDeepMergesParentOverride(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "default", `{
		"observationTypes": ["decision", "bugfix"],
		"promptTemplates": {"observation": "base observation template", "summarize": "base summarize template"}
	}`)
	writeMode(t, dir, "default--strict", `{
		"concepts": ["security"],
		"promptTemplates": {"observation": "strict observation template"}
	}`)

	modes, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	strict, ok := modes["strict"]
	if !ok {
		t.Fatalf("expected a \"strict\" mode resolved from default--strict, got %v", keysOf(modes))
	}

	// Arrays not present in the override are inherited wholesale from the parent.
	if len(strict.ObservationTypes) != 2 {
		t.Fatalf("ObservationTypes = %v, want inherited from parent", strict.ObservationTypes)
	}
	// Arrays present in the override replace rather than append.
	if len(strict.Concepts) != 1 || strict.Concepts[0] != "security" {
		t.Fatalf("Concepts = %v, want [security] (replaced, not merged)", strict.Concepts)
	}
	// Object fields deep-merge key by key: the override's "observation"
	// key replaces, but "summarize" is inherited from the parent.
	if strict.PromptTemplates["observation"] != "strict observation template" {
		t.Fatalf("promptTemplates.observation = %q, want the override", strict.PromptTemplates["observation"])
	}
	if strict.PromptTemplates["summarize"] != "base summarize template" {
		t.Fatalf("promptTemplates.summarize = %q, want inherited from parent", strict.PromptTemplates["summarize"])
	}

	if _, ok := modes["default"]; !ok {
		t.Fatalf("expected the parent mode itself to also still resolve")
	}
}

func TestLoadAllRejectsOverrideWithMissingParent(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "ghost--strict", `{"concepts":["security"]}`)

	if _, err := LoadAll(dir); err == nil {
		t.Fatalf("expected an error resolving an override whose parent file does not exist")
	}
}

func keysOf(m map[string]*Mode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
