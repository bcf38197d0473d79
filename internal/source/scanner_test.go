package source

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeProjectName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"-Users-alice-projects-gitlore", "gitlore"},
		{"-Users-alice-projects-my-cool-project", "my-cool-project"},
		{"-home-bob-src-api", "api"},
		{"-tmp-scratch", "scratch"},
	}
	for _, tt := range tests {
		if got := decodeProjectName(tt.in); got != tt.want {
			t.Errorf("decodeProjectName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScanDir(t *testing.T) {
	claudeDir := t.TempDir()
	proj := filepath.Join(ProjectsDir(claudeDir), "-Users-alice-projects-demo")
	sub := filepath.Join(proj, "sess-1", "subagents")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(proj, "sess-1.jsonl"),
		filepath.Join(sub, "agent-7.jsonl"),
		filepath.Join(proj, "sessions-index.json"),
	} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ScanDir(claudeDir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}

	var main, agent DiscoveredFile
	for _, f := range files {
		if f.IsSubagent {
			agent = f
		} else {
			main = f
		}
	}
	if main.SessionID != "sess-1" || main.Project != "demo" {
		t.Errorf("main = %+v, want session sess-1 in project demo", main)
	}
	if agent.SessionID != "sess-1/agent-7" || agent.ParentSession != "sess-1" {
		t.Errorf("agent = %+v, want session sess-1/agent-7", agent)
	}
	if CountProjects(files) != 1 {
		t.Errorf("CountProjects = %d, want 1", CountProjects(files))
	}
}

func TestScanDir_MissingProjects(t *testing.T) {
	files, err := ScanDir(t.TempDir())
	if err != nil || files != nil {
		t.Errorf("ScanDir(empty) = %v, %v; want nil, nil", files, err)
	}
}

func TestDiscover_RejectsOutsidePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "projects")
	if _, ok := Discover(root, filepath.Join(root, "top-level.jsonl")); ok {
		t.Error("Discover accepted a file directly under projects/")
	}
	if _, ok := Discover(root, filepath.Join(root, "p", "notes.txt")); ok {
		t.Error("Discover accepted a non-jsonl file")
	}
	if _, ok := Discover(root, "/elsewhere/p/s.jsonl"); ok {
		t.Error("Discover accepted a path outside projects/")
	}
}
