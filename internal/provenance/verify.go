package provenance

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Report is the outcome of verifying a chain. FirstBroken is the sequence
// number of the earliest broken record, or 0.
type Report struct {
	Records     int     `json:"records"`
	Valid       bool    `json:"valid"`
	Head        string  `json:"head"`
	Broken      []int64 `json:"broken,omitempty"`
	FirstBroken int64   `json:"first_broken,omitempty"`
}

// Verify walks records in order. A record is broken when its stored content
// hash does not match its fields, its previous link does not match the
// running chain, or its chain hash cannot be recomputed from its links.
// The running chain follows the stored content hashes, so a tampered record
// breaks every record after it.
func Verify(records []Record) Report {
	rep := Report{Records: len(records), Valid: true, Head: Genesis}

	running := Genesis
	for i := range records {
		r := &records[i]

		content, err := ContentHash(r)
		broken := err != nil ||
			content != r.ContentHash ||
			r.PrevChainHash != running ||
			r.ChainHash != ChainHash(r.PrevChainHash, r.ContentHash)

		if broken {
			if rep.Valid {
				rep.FirstBroken = r.Seq
			}
			rep.Valid = false
			rep.Broken = append(rep.Broken, r.Seq)
		}

		running = ChainHash(running, r.ContentHash)
	}

	if n := len(records); n > 0 {
		rep.Head = records[n-1].ChainHash
	}
	return rep
}

// WriteJSONL writes records as JSON lines.
func WriteJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("writing record %d: %w", records[i].Seq, err)
		}
	}
	return nil
}

// ReadJSONL reads records written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return records, nil
}

// VerifyJSONL verifies an exported ledger.
func VerifyJSONL(r io.Reader) (Report, error) {
	records, err := ReadJSONL(r)
	if err != nil {
		return Report{}, err
	}
	return Verify(records), nil
}
