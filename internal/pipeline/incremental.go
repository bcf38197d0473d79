package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/theirongolddev/burnwatch/internal/source"
	"github.com/theirongolddev/burnwatch/internal/store"
)

// CachedLoadResult extends LoadResult with cache metadata.
type CachedLoadResult struct {
	LoadResult
	CacheHits int
	Reparsed  int
	Pruned    int
}

// LoadWithCache discovers, diffs against cache, parses only changed files,
// and returns the combined result set.
func LoadWithCache(claudeDir string, includeSubagents bool, cache *store.Cache, progressFn ProgressFunc) (*CachedLoadResult, error) {
	files, err := discover(claudeDir, includeSubagents)
	if err != nil {
		return nil, err
	}

	result := &CachedLoadResult{
		LoadResult: LoadResult{
			Files:        files,
			TotalFiles:   len(files),
			ProjectCount: source.CountProjects(files),
		},
	}

	tracked, err := cache.GetTrackedFiles()
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	// Diff: partition into changed and unchanged
	var toReparse []source.DiscoveredFile
	unchanged := make(map[string]struct{})
	present := make(map[string]struct{}, len(files))

	for _, f := range files {
		present[f.Path] = struct{}{}
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}

		cached, ok := tracked[f.Path]
		if ok && cached.MtimeNs == info.ModTime().UnixNano() && cached.SizeBytes == info.Size() {
			unchanged[f.Path] = struct{}{}
			result.ParseErrors += cached.ParseErrors
		} else {
			toReparse = append(toReparse, f)
		}
	}

	// Files that vanished from disk leave the cache too.
	for path := range tracked {
		if _, ok := present[path]; !ok {
			if err := cache.DeleteFile(path); err == nil {
				result.Pruned++
			}
		}
	}

	result.CacheHits = len(unchanged)
	result.Reparsed = len(toReparse)

	if len(unchanged) > 0 {
		cached, err := cache.LoadEntries()
		if err != nil {
			return nil, fmt.Errorf("loading cached entries: %w", err)
		}
		for path, entries := range cached {
			if _, ok := unchanged[path]; ok {
				result.Entries = append(result.Entries, entries...)
				result.ParsedFiles++
			}
		}
	}

	if len(toReparse) > 0 {
		results := parseAll(toReparse, result.CacheHits, result.TotalFiles, progressFn)
		for i, pr := range results {
			if pr.Err != nil {
				result.FileErrors++
				continue
			}
			result.ParsedFiles++
			result.ParseErrors += pr.ParseErrors
			result.Entries = append(result.Entries, pr.Entries...)

			info, err := os.Stat(toReparse[i].Path)
			if err == nil {
				_ = cache.SaveFile(toReparse[i].Path, pr.Entries, store.FileInfo{
					MtimeNs:     info.ModTime().UnixNano(),
					SizeBytes:   info.Size(),
					ParseErrors: pr.ParseErrors,
				})
			}
		}
	}

	result.Entries = mergeEntries(result.Entries)
	return result, nil
}

// CacheDir returns the platform-appropriate cache directory.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "burnwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "burnwatch")
}

// CachePath returns the full path to the cache database.
func CachePath() string {
	return filepath.Join(CacheDir(), "entries.db")
}
