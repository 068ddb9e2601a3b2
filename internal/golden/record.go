package golden

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// RecordExt replaces the example's extension to name its record.
const RecordExt = ".output.json"

// Record is the expected outcome of running one compiled example.
type Record struct {
	ReturnCode int      `json:"returncode"`
	Args       []string `json:"args"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
}

// RecordPath returns the record file belonging to example, e.g. add.qr -> add.output.json.
func RecordPath(example string) string {
	return strings.TrimSuffix(example, filepath.Ext(example)) + RecordExt
}

// Load reads the record of example. A missing record is reported with an error satisfying
// errors.Is(err, fs.ErrNotExist).
func Load(example string) (*Record, error) {
	data, err := os.ReadFile(RecordPath(example))
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed record %s: %w", RecordPath(example), err)
	}
	if rec.Args == nil {
		rec.Args = []string{}
	}
	return &rec, nil
}

// Save replaces the record of example. The record is written to a temporary file next to it and
// renamed into place, so readers never see a partial record.
func (r *Record) Save(example string) error {
	if r.Args == nil {
		r.Args = []string{}
	}
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	path := RecordPath(example)
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
