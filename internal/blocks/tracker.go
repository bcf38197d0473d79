// Package blocks groups usage entries into fixed-duration billing windows per (project, session).
package blocks

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/source"
)

// ErrOutOfWindow marks an entry that falls before its key's open block, or
// before the end of the key's last closed block. It also matches
// source.ErrMalformedRecord.
var ErrOutOfWindow = errors.New("entry outside block window")

// OutOfWindowError carries the rejected entry and the boundary it violated.
type OutOfWindowError struct {
	EntryID   string
	Key       model.BlockKey
	Timestamp time.Time
	Boundary  time.Time
}

func (e *OutOfWindowError) Error() string {
	return fmt.Sprintf("malformed record: entry %s for %s at %s is before %s",
		e.EntryID, e.Key, e.Timestamp.Format(time.RFC3339), e.Boundary.Format(time.RFC3339))
}

// Is matches ErrOutOfWindow and source.ErrMalformedRecord.
func (e *OutOfWindowError) Is(target error) bool {
	return target == ErrOutOfWindow || target == source.ErrMalformedRecord
}

var blockNamespace = uuid.MustParse("0b6f5a3e-2f7d-5c11-8e4a-7a9d1c3b5e20")

// BlockID derives a stable identifier for the block of key starting at start,
// so live and replayed blocks share ids.
func BlockID(key model.BlockKey, start time.Time) string {
	name := key.Project + "\x00" + key.SessionID + "\x00" + start.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(blockNamespace, []byte(name)).String()
}

type openBlock struct {
	block model.SessionBlock
	ids   map[string]struct{}
	// published is a frozen copy handed to readers; nil after any mutation.
	published *model.SessionBlock
}

// Tracker owns the open blocks. It is not safe for concurrent use; a single
// owner applies entries and sweeps.
type Tracker struct {
	window       time.Duration
	idleGrace    time.Duration
	historyLimit int

	open   map[model.BlockKey]*openBlock
	last   map[model.BlockKey]closedMark
	closed []model.SessionBlock
}

// closedMark remembers a key's most recently closed block: its end and the
// ids it counted.
type closedMark struct {
	until time.Time
	ids   map[string]struct{}
}

// New returns a Tracker. historyLimit bounds the retained closed blocks;
// zero keeps all of them.
func New(window, idleGrace time.Duration, historyLimit int) *Tracker {
	return &Tracker{
		window:       window,
		idleGrace:    idleGrace,
		historyLimit: historyLimit,
		open:         make(map[model.BlockKey]*openBlock),
		last:         make(map[model.BlockKey]closedMark),
	}
}

// Window returns the configured block duration.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Apply assigns e to its key's block. When e lands at or past the open
// block's end, that block is closed, returned, and a new block starts at
// e.Timestamp. Entries before the open block's start are rejected with an
// OutOfWindowError and leave the tracker unchanged. An entry whose id was
// already counted by the key's last closed block is skipped.
func (t *Tracker) Apply(e model.UsageEntry) (*model.SessionBlock, error) {
	key := e.Key()
	ob := t.open[key]
	mark, marked := t.last[key]

	if marked {
		if _, counted := mark.ids[e.ID]; counted && (ob == nil || !ob.has(e.ID)) {
			return nil, nil
		}
	}
	if ob == nil {
		if marked && e.Timestamp.Before(mark.until) {
			return nil, &OutOfWindowError{EntryID: e.ID, Key: key, Timestamp: e.Timestamp, Boundary: mark.until}
		}
		t.open[key] = t.start(e)
		return nil, nil
	}

	b := &ob.block
	if e.Timestamp.Before(b.StartTime) {
		return nil, &OutOfWindowError{EntryID: e.ID, Key: key, Timestamp: e.Timestamp, Boundary: b.StartTime}
	}
	if !e.Timestamp.Before(b.EndTime) {
		closed := t.close(key, ob, model.CloseRollover, e.Timestamp)
		t.open[key] = t.start(e)
		return &closed, nil
	}

	ob.published = nil
	if _, dup := ob.ids[e.ID]; dup {
		replace(b, e)
		return nil, nil
	}
	ob.ids[e.ID] = struct{}{}
	insert(b, e)
	return nil, nil
}

// Sweep closes every open block whose end (plus idle grace) is at or before now.
// Closed blocks are returned ordered by start time. Keys whose last closed
// block ended more than one window before now are forgotten.
func (t *Tracker) Sweep(now time.Time) []model.SessionBlock {
	var closed []model.SessionBlock
	for key, ob := range t.open {
		if now.Before(ob.block.EndTime.Add(t.idleGrace)) {
			continue
		}
		closed = append(closed, t.close(key, ob, model.CloseIdle, now))
	}
	for key, mark := range t.last {
		if mark.until.Add(t.window).Before(now) {
			delete(t.last, key)
		}
	}
	sortBlocks(closed)
	return closed
}

// Open returns the open blocks ordered by start time. The returned blocks
// share memory with later calls and must not be modified.
func (t *Tracker) Open() []model.SessionBlock {
	out := make([]model.SessionBlock, 0, len(t.open))
	for _, ob := range t.open {
		if ob.published == nil {
			c := ob.block.Clone()
			ob.published = &c
		}
		out = append(out, *ob.published)
	}
	sortBlocks(out)
	return out
}

// Get returns a copy of the open block for key.
func (t *Tracker) Get(key model.BlockKey) (model.SessionBlock, bool) {
	ob, ok := t.open[key]
	if !ok {
		return model.SessionBlock{}, false
	}
	return ob.block.Clone(), true
}

// Closed returns retained closed blocks, oldest first.
func (t *Tracker) Closed() []model.SessionBlock {
	return slices.Clone(t.closed)
}

// Len returns the number of open blocks.
func (t *Tracker) Len() int {
	return len(t.open)
}

// Remembered returns how many keys still carry a closed-block boundary.
func (t *Tracker) Remembered() int {
	return len(t.last)
}

func (ob *openBlock) has(id string) bool {
	_, ok := ob.ids[id]
	return ok
}

func (t *Tracker) start(e model.UsageEntry) *openBlock {
	key := e.Key()
	ob := &openBlock{
		block: model.SessionBlock{
			ID:        BlockID(key, e.Timestamp),
			Project:   key.Project,
			SessionID: key.SessionID,
			StartTime: e.Timestamp,
			EndTime:   e.Timestamp.Add(t.window),
		},
		ids: map[string]struct{}{e.ID: {}},
	}
	insert(&ob.block, e)
	return ob
}

func (t *Tracker) close(key model.BlockKey, ob *openBlock, reason model.CloseReason, at time.Time) model.SessionBlock {
	delete(t.open, key)
	t.last[key] = closedMark{until: ob.block.EndTime, ids: ob.ids}

	b := ob.block
	b.CloseReason = reason
	b.ClosedAt = at
	t.closed = append(t.closed, b)
	if t.historyLimit > 0 && len(t.closed) > t.historyLimit {
		t.closed = slices.Delete(t.closed, 0, len(t.closed)-t.historyLimit)
	}
	return b.Clone()
}

// insert places e in timestamp order, after any entries with the same timestamp.
func insert(b *model.SessionBlock, e model.UsageEntry) {
	i := sort.Search(len(b.Entries), func(i int) bool {
		return b.Entries[i].Timestamp.After(e.Timestamp)
	})
	b.Entries = slices.Insert(b.Entries, i, e)
	b.Tokens.Add(e)
	b.CostUSD += e.CostUSD
	if !slices.Contains(b.Models, e.Model) {
		b.Models = append(b.Models, e.Model)
		slices.Sort(b.Models)
	}
	if e.Timestamp.After(b.LastActivity) {
		b.LastActivity = e.Timestamp
	}
}

// replace swaps the entry sharing e's ID for e (last write wins).
func replace(b *model.SessionBlock, e model.UsageEntry) {
	i := slices.IndexFunc(b.Entries, func(old model.UsageEntry) bool { return old.ID == e.ID })
	old := b.Entries[i]
	b.Entries = slices.Delete(b.Entries, i, i+1)
	b.Tokens.Sub(old)
	b.CostUSD -= old.CostUSD

	b.LastActivity = time.Time{}
	for _, rest := range b.Entries {
		if rest.Timestamp.After(b.LastActivity) {
			b.LastActivity = rest.Timestamp
		}
	}
	b.Models = lo.Uniq(lo.Map(b.Entries, func(x model.UsageEntry, _ int) string { return x.Model }))
	slices.Sort(b.Models)
	insert(b, e)
}

func sortBlocks(bs []model.SessionBlock) {
	slices.SortFunc(bs, func(a, b model.SessionBlock) int {
		return cmp.Or(
			a.StartTime.Compare(b.StartTime),
			strings.Compare(a.Project, b.Project),
			strings.Compare(a.SessionID, b.SessionID),
		)
	})
}
