package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// IdentityLedger is the ordered metadata log. Entry i describes vector i of
// the VectorIndex. It is append-only. Not safe for concurrent use.
type IdentityLedger struct {
	records []IdentityRecord
	hashes  HashLedger
}

// NewIdentityLedger creates an empty ledger.
func NewIdentityLedger() *IdentityLedger {
	return &IdentityLedger{hashes: newHashLedger(nil)}
}

// Len returns the number of records.
func (l *IdentityLedger) Len() int { return len(l.records) }

// Append adds a record at the next ordinal.
func (l *IdentityLedger) Append(rec IdentityRecord) int {
	l.records = append(l.records, rec)
	l.hashes.add(rec.ContentHash)
	return len(l.records) - 1
}

// Get returns the record at ordinal, or false when out of range.
func (l *IdentityLedger) Get(ordinal int) (IdentityRecord, bool) {
	if ordinal < 0 || ordinal >= len(l.records) {
		return IdentityRecord{}, false
	}
	return l.records[ordinal], true
}

// Label returns the user id at ordinal. An ordinal the ledger does not (yet)
// cover yields UnknownLabel instead of an error.
func (l *IdentityLedger) Label(ordinal int) string {
	rec, ok := l.Get(ordinal)
	if !ok {
		return UnknownLabel
	}
	return rec.UserID
}

// ContainsHash reports whether any record carries the content hash.
func (l *IdentityLedger) ContainsHash(hash string) bool {
	return l.hashes.Contains(hash)
}

// Identities returns the number of distinct user ids.
func (l *IdentityLedger) Identities() int {
	seen := make(map[string]struct{})
	for i := range l.records {
		seen[l.records[i].UserID] = struct{}{}
	}
	return len(seen)
}

// Load reads the metadata artifact. A missing file leaves the ledger empty.
func (l *IdentityLedger) Load(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		l.records = nil
		l.hashes = newHashLedger(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading metadata file: %w", err)
	}

	var records []IdentityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decoding metadata file: %w", err)
	}
	l.records = records
	l.hashes = newHashLedger(records)
	return nil
}

// WriteTo writes the whole ledger as an indented JSON array.
func (l *IdentityLedger) WriteTo(w io.Writer) (int64, error) {
	records := l.records
	if records == nil {
		records = []IdentityRecord{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return 0, fmt.Errorf("encoding metadata: %w", err)
	}
	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("writing metadata: %w", err)
	}
	return int64(n), nil
}

// HashLedger answers "was this exact image ingested before?". It is derived
// from the IdentityLedger's content hashes and rebuilt whenever the ledger is
// loaded, so lookups only ever read it.
type HashLedger struct {
	set map[string]struct{}
}

func newHashLedger(records []IdentityRecord) HashLedger {
	h := HashLedger{set: make(map[string]struct{}, len(records))}
	for i := range records {
		h.add(records[i].ContentHash)
	}
	return h
}

// Contains reports whether hash belongs to an ingested record.
func (h *HashLedger) Contains(hash string) bool {
	if hash == "" {
		return false
	}
	_, ok := h.set[hash]
	return ok
}

func (h *HashLedger) add(hash string) {
	if hash != "" {
		h.set[hash] = struct{}{}
	}
}
