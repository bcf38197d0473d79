package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeSession creates a temp JSONL file and returns a DiscoveredFile for it.
func writeSession(t *testing.T, lines ...string) DiscoveredFile {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return DiscoveredFile{
		Path:      path,
		SessionID: "test-session",
		Project:   "test-project",
	}
}

func TestParseFile_AssistantDedup(t *testing.T) {
	// Two entries with same message ID: the second wins.
	df := writeSession(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg1","model":"claude-sonnet-4-6-20250514","usage":{"input_tokens":100,"output_tokens":50}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:01Z","message":{"id":"msg1","model":"claude-sonnet-4-6-20250514","usage":{"input_tokens":200,"output_tokens":80}}}`,
	)

	result := ParseFile(df)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	if len(result.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1 (dedup)", len(result.Entries))
	}
	e := result.Entries[0]
	if e.InputTokens != 200 {
		t.Errorf("InputTokens = %d, want 200 (last wins)", e.InputTokens)
	}
	if e.OutputTokens != 80 {
		t.Errorf("OutputTokens = %d, want 80 (last wins)", e.OutputTokens)
	}
	if e.Project != "test-project" || e.SessionID != "test-session" {
		t.Errorf("origin = %s/%s, want test-project/test-session", e.Project, e.SessionID)
	}
}

func TestParseFile_SortedByTimestamp(t *testing.T) {
	df := writeSession(t,
		`{"type":"assistant","timestamp":"2025-06-01T12:00:00Z","message":{"id":"b","model":"claude-haiku-4-5","usage":{"input_tokens":1,"output_tokens":0}}}`,
		`{"type":"user","timestamp":"2025-06-01T09:00:00Z"}`,
		`{"type":"assistant","timestamp":"2025-06-01T08:00:00Z","message":{"id":"a","model":"claude-haiku-4-5","usage":{"input_tokens":1,"output_tokens":0}}}`,
	)

	result := ParseFile(df)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(result.Entries))
	}
	want := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if got := result.Entries[0].Timestamp; !got.Equal(want) {
		t.Errorf("Entries[0].Timestamp = %v, want %v", got, want)
	}
}

func TestParseFile_EmptyFile(t *testing.T) {
	df := writeSession(t)
	result := ParseFile(df)
	if result.Err != nil {
		t.Fatalf("unexpected error on empty file: %v", result.Err)
	}
	if len(result.Entries) != 0 || result.ParseErrors != 0 {
		t.Error("expected no entries for empty file")
	}
}

func TestParseFile_MalformedLines(t *testing.T) {
	df := writeSession(t,
		`not json at all`,
		`{"type":"user","timestamp":"2025-06-01T10:00:00Z"}`,
		`{"type":"assistant","broken json`,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"ok","model":"claude-haiku-4-5","usage":{"input_tokens":5,"output_tokens":0}}}`,
	)

	result := ParseFile(df)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	// Malformed lines are counted and skipped, not fatal.
	if result.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", result.ParseErrors)
	}
	if len(result.Entries) != 1 {
		t.Errorf("len(Entries) = %d, want 1", len(result.Entries))
	}
	if !errors.Is(result.LastError, ErrMalformedRecord) {
		t.Errorf("LastError = %v, want ErrMalformedRecord", result.LastError)
	}
}

func TestParseFile_CacheTokens(t *testing.T) {
	df := writeSession(t,
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"id":"msg1","model":"claude-sonnet-4-6","usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":500,"cache_creation":{"ephemeral_5m_input_tokens":200,"ephemeral_1h_input_tokens":300}}}}`,
	)

	result := ParseFile(df)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(result.Entries))
	}

	e := result.Entries[0]
	if e.CacheReadTokens != 500 {
		t.Errorf("CacheReadTokens = %d, want 500", e.CacheReadTokens)
	}
	if e.CacheCreationTokens != 500 {
		t.Errorf("CacheCreationTokens = %d, want 500 (5m + 1h)", e.CacheCreationTokens)
	}
	if e.TotalTokens() != 1150 {
		t.Errorf("TotalTokens() = %d, want 1150", e.TotalTokens())
	}
}

func TestReadAppended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	if err := os.WriteFile(path, []byte("{\"a\":1}\n{\"b\":2}\n{\"partial\""), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := ReadAppended(path, 0)
	if err != nil {
		t.Fatalf("ReadAppended: %v", err)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("len(Lines) = %d, want 2 (partial line held back)", len(res.Lines))
	}
	if res.Offset != 16 {
		t.Errorf("Offset = %d, want 16", res.Offset)
	}

	// Finish the partial line; only it is returned next time.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(":3}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	res, err = ReadAppended(path, res.Offset)
	if err != nil {
		t.Fatalf("ReadAppended: %v", err)
	}
	if len(res.Lines) != 1 || string(res.Lines[0]) != `{"partial":3}` {
		t.Errorf("Lines = %q, want [{\"partial\":3}]", res.Lines)
	}

	// Truncation restarts from the beginning.
	if err := os.WriteFile(path, []byte("{\"c\":4}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err = ReadAppended(path, res.Offset)
	if err != nil {
		t.Fatalf("ReadAppended: %v", err)
	}
	if len(res.Lines) != 1 || res.Offset != 8 {
		t.Errorf("after truncate Lines = %q Offset = %d, want 1 line at offset 8", res.Lines, res.Offset)
	}
}

func TestExtractTopLevelType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"user", `{"type":"user","foo":"bar"}`, "user"},
		{"assistant", `{"type":"assistant","message":{}}`, "assistant"},
		{"system", `{"type": "system","subtype":"turn_duration"}`, "system"},
		{"nested type ignored", `{"data":{"type":"progress"},"type":"user"}`, "user"},
		{"unknown type", `{"type":"progress","data":{}}`, ""},
		{"no type field", `{"message":"hello"}`, ""},
		{"empty", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTopLevelType([]byte(tt.input))
			if got != tt.want {
				t.Errorf("extractTopLevelType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// FuzzExtractTopLevelType tests that the byte-level parser never panics
// on arbitrary input, which is important since it processes untrusted files.
func FuzzExtractTopLevelType(f *testing.F) {
	// Seed corpus with realistic patterns
	f.Add([]byte(`{"type":"user","timestamp":"2025-06-01T10:00:00Z"}`))
	f.Add([]byte(`{"type":"assistant","message":{"id":"x","usage":{}}}`))
	f.Add([]byte(`{"type":"system","subtype":"turn_duration","durationMs":5000}`))
	f.Add([]byte(`{"data":{"type":"nested"},"type":"user"}`))
	f.Add([]byte(`not json`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"type":null}`))
	f.Add([]byte(`{"type":123}`))
	f.Add([]byte(``))
	f.Add([]byte(`{"type":"user`)) // unterminated string

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic
		result := extractTopLevelType(data)

		// Result must be one of the known types or empty
		switch result {
		case "", "user", "assistant", "system":
			// ok
		default:
			t.Errorf("unexpected type %q from input %q", result, data)
		}
	})
}
