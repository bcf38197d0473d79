// Package source discovers Claude Code JSONL session files and normalizes their records into usage entries.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"slices"

	"github.com/theirongolddev/burnwatch/internal/model"
)

// ParseResult holds the output of parsing a single JSONL file.
type ParseResult struct {
	File        DiscoveredFile
	Entries     []model.UsageEntry
	ParseErrors int
	LastError   error
	Err         error
}

// ParseFile reads a JSONL session file and produces deduplicated usage entries
// sorted by timestamp. Entries sharing an ID keep only the last occurrence
// (final billed usage). Malformed lines are counted and skipped.
func ParseFile(df DiscoveredFile) ParseResult {
	f, err := os.Open(df.Path)
	if err != nil {
		return ParseResult{File: df, Err: err}
	}
	defer func() { _ = f.Close() }()

	res := ParseResult{File: df}
	index := make(map[string]int)
	origin := df.Origin()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		e, err := Normalize(scanner.Bytes(), origin)
		if err != nil {
			if !errors.Is(err, ErrNoUsage) {
				res.ParseErrors++
				res.LastError = err
			}
			continue
		}
		if i, ok := index[e.ID]; ok {
			res.Entries[i] = e
			continue
		}
		index[e.ID] = len(res.Entries)
		res.Entries = append(res.Entries, e)
	}

	if err := scanner.Err(); err != nil {
		res.Err = err
		return res
	}

	slices.SortStableFunc(res.Entries, func(a, b model.UsageEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return res
}

// TailResult is the outcome of reading newly appended records from a file.
type TailResult struct {
	Lines  [][]byte
	Offset int64
}

// ReadAppended returns complete lines written after offset and the offset just
// past the last complete line. A trailing line without a newline is left for
// the next read. If the file shrank below offset it is read from the start.
func ReadAppended(path string, offset int64) (TailResult, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the scanned projects dir
	if err != nil {
		return TailResult{Offset: offset}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return TailResult{Offset: offset}, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, err
	}

	res := TailResult{Offset: offset}
	r := bufio.NewReaderSize(f, 256*1024)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
		res.Offset += int64(len(line))
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			res.Lines = append(res.Lines, trimmed)
		}
	}
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// extractTopLevelType finds the top-level "type" field in a JSONL line.
// Tracks brace depth and string boundaries so nested "type" keys are ignored.
// Early-exits once found (~400 bytes in), making cost O(1) vs line length.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := classifyType(line, i+len(typeKey))
				if isKey {
					return val // the "type" key decides, whatever its value
				}
				// "type" appeared as a value, not a key. Continue scanning.
			}
			i = skipJSONString(line, i)
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// classifyType checks whether pos follows a JSON key (expects : then value).
// Returns the type value and whether this was a valid key:value pair.
// isKey=false means "type" appeared as a value, not a key; the caller keeps scanning.
func classifyType(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false // no colon, so this was a value
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true // key with non-string value (null, number, etc.)
	}
	i++ // past opening quote

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 20 {
		return "", true
	}
	v := string(line[i : i+end])
	switch v {
	case "assistant", "user", "system":
		return v, true
	}
	return "", true // valid key but irrelevant type (e.g., "progress")
}

// skipJSONString advances past a JSON string starting at the opening quote.
//
//nolint:gosec // manual bounds checking throughout
func skipJSONString(line []byte, i int) int {
	i++ // skip opening quote
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && line[i] == ' ' {
		i++
	}
	return i
}
