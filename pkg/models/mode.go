package models

import (
	"fmt"
	"strings"
)

// Mode selects the inference strategy of a job. It is a closed set; every
// switch over Mode is expected to handle all four values.
type Mode uint8

const (
	ModeBaseline Mode = iota
	ModeRetrieval
	ModeAdapter
	ModeAdapterRetrieval
)

var modeNames = [...]string{
	ModeBaseline:         "baseline",
	ModeRetrieval:        "retrieval",
	ModeAdapter:          "adapter",
	ModeAdapterRetrieval: "adapter+retrieval",
}

// ParseMode converts the wire form of a mode. An empty string yields ModeRetrieval.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeRetrieval, nil
	}
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q: must be one of baseline, retrieval, adapter, adapter+retrieval", s)
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", m)
}

// UsesRetrieval reports whether the mode runs the two-pass retrieval flow.
func (m Mode) UsesRetrieval() bool {
	switch m {
	case ModeRetrieval, ModeAdapterRetrieval:
		return true
	case ModeBaseline, ModeAdapter:
		return false
	}
	return false
}

// UsesAdapter reports whether the backend should apply the fine-tuned adapter.
func (m Mode) UsesAdapter() bool {
	switch m {
	case ModeAdapter, ModeAdapterRetrieval:
		return true
	case ModeBaseline, ModeRetrieval:
		return false
	}
	return false
}

// WithoutRetrieval returns the single-pass mode used when retrieval is
// unavailable for a job.
func (m Mode) WithoutRetrieval() Mode {
	switch m {
	case ModeRetrieval:
		return ModeBaseline
	case ModeAdapterRetrieval:
		return ModeAdapter
	case ModeBaseline, ModeAdapter:
		return m
	}
	return m
}

func (m Mode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("invalid mode %d", m)
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
