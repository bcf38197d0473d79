package pipeline

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/source"
)

// LoadResult holds the output of the full data loading pipeline.
type LoadResult struct {
	Entries      []model.UsageEntry
	Files        []source.DiscoveredFile
	TotalFiles   int
	ParsedFiles  int
	ParseErrors  int
	FileErrors   int
	ProjectCount int
}

// ProgressFunc is called during loading to report progress.
// current is the number of files processed so far, total is the total count.
type ProgressFunc func(current, total int)

// Load discovers and parses all session files from the Claude data directory.
// It uses a bounded worker pool for parallel parsing. Entries are returned
// sorted by timestamp with cross-file duplicates removed.
func Load(claudeDir string, includeSubagents bool, progressFn ProgressFunc) (*LoadResult, error) {
	files, err := discover(claudeDir, includeSubagents)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{
		Files:        files,
		TotalFiles:   len(files),
		ProjectCount: source.CountProjects(files),
	}
	if len(files) == 0 {
		return result, nil
	}

	for _, pr := range parseAll(files, 0, len(files), progressFn) {
		if pr.Err != nil {
			result.FileErrors++
			continue
		}
		result.ParsedFiles++
		result.ParseErrors += pr.ParseErrors
		result.Entries = append(result.Entries, pr.Entries...)
	}

	result.Entries = mergeEntries(result.Entries)
	return result, nil
}

func discover(claudeDir string, includeSubagents bool) ([]source.DiscoveredFile, error) {
	files, err := source.ScanDir(claudeDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", claudeDir, err)
	}
	if includeSubagents {
		return files, nil
	}
	return slices.DeleteFunc(files, func(f source.DiscoveredFile) bool { return f.IsSubagent }), nil
}

// parseAll parses files on a bounded worker pool. Progress is reported as
// done+n out of total.
func parseAll(files []source.DiscoveredFile, done, total int, progressFn ProgressFunc) []source.ParseResult {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make([]source.ParseResult, len(files))
	var wg sync.WaitGroup
	var processed atomic.Int64

	for i := range files {
		work <- i
	}
	close(work)

	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = source.ParseFile(files[idx])
				n := processed.Add(1)
				if progressFn != nil {
					progressFn(done+int(n), total)
				}
			}
		}()
	}

	wg.Wait()
	return results
}

// mergeEntries sorts by timestamp and keeps the earliest copy of each id.
// Resumed sessions replay earlier messages into a new file; those copies
// must not be billed twice.
func mergeEntries(entries []model.UsageEntry) []model.UsageEntry {
	slices.SortStableFunc(entries, func(a, b model.UsageEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	seen := make(map[string]struct{}, len(entries))
	return slices.DeleteFunc(entries, func(e model.UsageEntry) bool {
		if _, dup := seen[e.ID]; dup {
			return true
		}
		seen[e.ID] = struct{}{}
		return false
	})
}
