package datastore

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RunSnapshot is the metadata blob stored alongside each run: the
// measurement that produced it, its settings and its parameter table.
// It is serialized as TOML so the column stays human-readable.
type RunSnapshot struct {
	Measurement string      `toml:"measurement"`
	Version     string      `toml:"version"`
	WritePeriod string      `toml:"write_period"`
	TakenAt     time.Time   `toml:"taken_at"`
	Params      []ParamSpec `toml:"params,omitempty"`

	// Station holds free-form instrument settings captured at run start.
	Station map[string]string `toml:"station,omitempty"`
}

// Encode serializes the snapshot to TOML.
func (s RunSnapshot) Encode() (string, error) {
	out, err := toml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding run snapshot: %w", err)
	}

	return string(out), nil
}

// DecodeSnapshot parses a TOML run snapshot.
func DecodeSnapshot(raw string) (RunSnapshot, error) {
	var s RunSnapshot
	if err := toml.Unmarshal([]byte(raw), &s); err != nil {
		return RunSnapshot{}, fmt.Errorf("decoding run snapshot: %w", err)
	}

	return s, nil
}
