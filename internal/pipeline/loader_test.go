package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/theirongolddev/burnwatch/internal/store"
)

const (
	lineA = `{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","sessionId":"s1","requestId":"r1","message":{"id":"m1","model":"claude-haiku-4-5","usage":{"input_tokens":100,"output_tokens":10}}}`
	lineB = `{"type":"assistant","timestamp":"2025-06-01T10:05:00Z","sessionId":"s1","requestId":"r2","message":{"id":"m2","model":"claude-haiku-4-5","usage":{"input_tokens":200,"output_tokens":20}}}`
)

func writeProject(t testing.TB, claudeDir, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(claudeDir, "projects", rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "-home-u-projects-demo/s1.jsonl", lineB, lineA, `garbage`)
	// A resumed session replays m1 into a second file.
	writeProject(t, dir, "-home-u-projects-demo/s2.jsonl", lineA)
	writeProject(t, dir, "-home-u-projects-demo/s1/subagents/agent-1.jsonl", strings.ReplaceAll(lineA, "m1", "m9"))

	res, err := Load(dir, false, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2 (subagents excluded)", res.TotalFiles)
	}
	if res.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", res.ParseErrors)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2 (cross-file duplicate dropped)", len(res.Entries))
	}
	if res.Entries[0].ID != "m1:r1" {
		t.Errorf("first entry = %q, want m1:r1 (sorted)", res.Entries[0].ID)
	}

	withSub, err := Load(dir, true, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(withSub.Entries) != 3 {
		t.Errorf("with subagents len(Entries) = %d, want 3", len(withSub.Entries))
	}
}

func TestLoadWithCache(t *testing.T) {
	dir := t.TempDir()
	path := writeProject(t, dir, "-home-u-projects-demo/s1.jsonl", lineA)

	cache, err := store.Open(filepath.Join(t.TempDir(), "entries.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cache.Close() }()

	first, err := LoadWithCache(dir, true, cache, nil)
	if err != nil {
		t.Fatalf("LoadWithCache: %v", err)
	}
	if first.Reparsed != 1 || first.CacheHits != 0 || len(first.Entries) != 1 {
		t.Errorf("first load = reparsed %d hits %d entries %d, want 1/0/1", first.Reparsed, first.CacheHits, len(first.Entries))
	}

	second, err := LoadWithCache(dir, true, cache, nil)
	if err != nil {
		t.Fatalf("LoadWithCache: %v", err)
	}
	if second.CacheHits != 1 || second.Reparsed != 0 || len(second.Entries) != 1 {
		t.Errorf("second load = reparsed %d hits %d entries %d, want 0/1/1", second.Reparsed, second.CacheHits, len(second.Entries))
	}

	if err := os.WriteFile(path, []byte(lineA+"\n"+lineB+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	third, err := LoadWithCache(dir, true, cache, nil)
	if err != nil {
		t.Fatalf("LoadWithCache: %v", err)
	}
	if third.Reparsed != 1 || len(third.Entries) != 2 {
		t.Errorf("after append = reparsed %d entries %d, want 1/2", third.Reparsed, len(third.Entries))
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	fourth, err := LoadWithCache(dir, true, cache, nil)
	if err != nil {
		t.Fatalf("LoadWithCache: %v", err)
	}
	if fourth.Pruned != 1 || len(fourth.Entries) != 0 {
		t.Errorf("after delete = pruned %d entries %d, want 1/0", fourth.Pruned, len(fourth.Entries))
	}
}
