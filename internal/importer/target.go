package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type TargetKind int

const (
	TargetUnmapped TargetKind = iota
	TargetIgnore
	TargetNew
	TargetField
)

const (
	ignoreLiteral = "IGNORE"
	newLiteral    = "NEW"
)

// Target is where a column, or one value extracted from a combined column,
// is written. On the wire it is null, "IGNORE", "NEW" or a field id.
type Target struct {
	Kind    TargetKind
	FieldID string
}

func Unmapped() Target          { return Target{Kind: TargetUnmapped} }
func Ignore() Target            { return Target{Kind: TargetIgnore} }
func CreateNew() Target         { return Target{Kind: TargetNew} }
func Field(id string) Target    { return Target{Kind: TargetField, FieldID: id} }
func (t Target) IsSet() bool    { return t.Kind != TargetUnmapped }
func (t Target) IsIgnore() bool { return t.Kind == TargetIgnore }

// IsField reports whether t points at the given field id.
func (t Target) IsField(id string) bool {
	return t.Kind == TargetField && t.FieldID == id
}

// ParseTarget reads the wire form. Empty input means unmapped.
func ParseTarget(raw string) Target {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Unmapped()
	case strings.EqualFold(raw, ignoreLiteral):
		return Ignore()
	case strings.EqualFold(raw, newLiteral):
		return CreateNew()
	default:
		return Field(raw)
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetIgnore:
		return ignoreLiteral
	case TargetNew:
		return newLiteral
	case TargetField:
		return t.FieldID
	default:
		return ""
	}
}

func (t Target) MarshalJSON() ([]byte, error) {
	if t.Kind == TargetUnmapped {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

func (t *Target) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Unmapped()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("target must be null or a string: %w", err)
	}
	*t = ParseTarget(raw)
	return nil
}
