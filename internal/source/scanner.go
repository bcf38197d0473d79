package source

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectsDir returns the directory Claude Code writes session logs under.
func ProjectsDir(claudeDir string) string {
	return filepath.Join(claudeDir, "projects")
}

// ScanDir walks the Claude projects directory and discovers all JSONL session files.
// It returns discovered files categorized as main sessions or subagent sessions.
func ScanDir(claudeDir string) ([]DiscoveredFile, error) {
	projectsDir := ProjectsDir(claudeDir)

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile

	err = filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if df, ok := Discover(projectsDir, path); ok {
			files = append(files, df)
		}
		return nil
	})

	return files, err
}

// Discover classifies a single path under projectsDir. It reports false for
// anything that is not a session or subagent JSONL file.
func Discover(projectsDir, path string) (DiscoveredFile, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".jsonl") {
		return DiscoveredFile{}, false
	}

	rel, err := filepath.Rel(projectsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return DiscoveredFile{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return DiscoveredFile{}, false
	}

	projectDir := parts[0]
	df := DiscoveredFile{
		Path:       path,
		Project:    decodeProjectName(projectDir),
		ProjectDir: projectDir,
	}

	// Pattern: <project>/<session-uuid>/subagents/agent-<id>.jsonl
	if len(parts) >= 4 && parts[2] == "subagents" {
		df.IsSubagent = true
		df.ParentSession = parts[1]
		// Use parent+agent to avoid collisions across sessions
		df.SessionID = parts[1] + "/" + strings.TrimSuffix(name, ".jsonl")
	} else {
		// Main session: <project>/<session-uuid>.jsonl
		df.SessionID = strings.TrimSuffix(name, ".jsonl")
	}
	return df, true
}

// decodeProjectName extracts a human-readable project name from the encoded directory name.
// Claude Code encodes absolute paths by replacing "/" with "-", so:
//
//	"-Users-alice-projects-gitlore" -> "gitlore"
//	"-Users-alice-projects-my-cool-project" -> "my-cool-project"
//
// We find the last known path component ("projects", "repos", "src", "code", "home")
// and take everything after it. Falls back to the last non-empty segment.
func decodeProjectName(dirName string) string {
	parts := strings.Split(dirName, "-")

	// Known parent directory names that commonly precede the project name
	knownParents := map[string]bool{
		"projects": true, "repos": true, "src": true,
		"code": true, "workspace": true, "dev": true,
	}

	// Scan for the last known parent marker and join everything after it
	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			name := strings.Join(parts[i+1:], "-")
			if name != "" {
				return name
			}
		}
	}

	// Fallback: return the last non-empty segment
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return dirName
}

// CountProjects returns the number of unique projects in a set of discovered files.
func CountProjects(files []DiscoveredFile) int {
	seen := make(map[string]struct{})
	for _, f := range files {
		seen[f.Project] = struct{}{}
	}
	return len(seen)
}
