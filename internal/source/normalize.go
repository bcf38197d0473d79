package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/burnwatch/internal/config"
	"github.com/theirongolddev/burnwatch/internal/model"
)

var (
	// ErrMalformedRecord marks a record that cannot become a UsageEntry.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNoUsage marks a well-formed record that carries no billable usage
	// (user turns, system events, synthetic messages). Callers skip these.
	ErrNoUsage = errors.New("record has no usage")
)

// MalformedError describes why a record was rejected.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record: %s: %v", e.Reason, e.Err)
	}
	return "malformed record: " + e.Reason
}

// Is matches ErrMalformedRecord.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}

// Reason extracts the rejection reason from a malformed-record error.
func Reason(err error) string {
	var me *MalformedError
	if errors.As(err, &me) {
		return me.Reason
	}
	return "unknown"
}

// entryNamespace seeds synthesized identifiers for records without a message id.
var entryNamespace = uuid.MustParse("6f0f5e8a-4c1d-5b7e-9a51-3d2c8e7b1f40")

// Normalize turns one raw JSONL record into a UsageEntry.
//
// Records that are not assistant messages with usage return ErrNoUsage.
// Records with a missing or unparsable timestamp, a missing model, negative
// token counts or an invalid cost return an error matching ErrMalformedRecord.
func Normalize(line []byte, origin Origin) (model.UsageEntry, error) {
	switch extractTopLevelType(line) {
	case "assistant":
	case "":
		if !json.Valid(line) {
			return model.UsageEntry{}, malformed("invalid json", nil)
		}
		return model.UsageEntry{}, ErrNoUsage
	default:
		return model.UsageEntry{}, ErrNoUsage
	}

	var raw RawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return model.UsageEntry{}, malformed("invalid json", err)
	}
	return raw.normalize(line, origin)
}

func (raw *RawEntry) normalize(line []byte, origin Origin) (model.UsageEntry, error) {
	msg := raw.Message
	if msg == nil || msg.Usage == nil || msg.Model == "<synthetic>" {
		return model.UsageEntry{}, ErrNoUsage
	}

	if raw.Timestamp == "" {
		return model.UsageEntry{}, malformed("missing timestamp", nil)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return model.UsageEntry{}, malformed("bad timestamp", err)
	}
	ts = ts.UTC()

	if msg.Model == "" {
		return model.UsageEntry{}, malformed("missing model", nil)
	}

	u := msg.Usage
	if u.InputTokens == nil || u.OutputTokens == nil {
		return model.UsageEntry{}, malformed("missing token counts", nil)
	}
	input, output := *u.InputTokens, *u.OutputTokens
	var cache5m, cache1h int64
	if u.CacheCreation != nil {
		cache5m = u.CacheCreation.Ephemeral5mInputTokens
		cache1h = u.CacheCreation.Ephemeral1hInputTokens
	} else {
		cache5m = u.CacheCreationInputTokens
	}
	for _, n := range []int64{input, output, u.CacheReadInputTokens, cache5m, cache1h} {
		if n < 0 {
			return model.UsageEntry{}, malformed("negative token count", nil)
		}
	}

	var cost float64
	if raw.CostUSD != nil {
		cost = *raw.CostUSD
		if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
			return model.UsageEntry{}, malformed("invalid cost", nil)
		}
	} else {
		cost = config.CalculateCostAt(msg.Model, ts, config.TokenUsage{
			Input:        input,
			Output:       output,
			CacheWrite5m: cache5m,
			CacheWrite1h: cache1h,
			CacheRead:    u.CacheReadInputTokens,
		})
	}

	session := origin.SessionID
	if session == "" {
		session = raw.SessionID
	}
	if session == "" {
		return model.UsageEntry{}, malformed("missing session", nil)
	}
	project := origin.Project
	if project == "" && raw.Cwd != "" {
		project = filepath.Base(raw.Cwd)
	}
	if project == "" {
		return model.UsageEntry{}, malformed("missing project", nil)
	}

	return model.UsageEntry{
		ID:                  entryID(msg.ID, raw.RequestID, line),
		Timestamp:           ts,
		Model:               msg.Model,
		InputTokens:         input,
		OutputTokens:        output,
		CacheCreationTokens: cache5m + cache1h,
		CacheReadTokens:     u.CacheReadInputTokens,
		CostUSD:             cost,
		SessionID:           session,
		Project:             project,
		ProjectPath:         raw.Cwd,
	}, nil
}

// entryID keys deduplication. Streaming writes several lines per message,
// all sharing message.id and requestId; the last one carries final usage.
func entryID(messageID, requestID string, line []byte) string {
	switch {
	case messageID != "" && requestID != "":
		return messageID + ":" + requestID
	case messageID != "":
		return messageID
	default:
		return uuid.NewSHA1(entryNamespace, line).String()
	}
}
