package importer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/sheet"
)

// MaxRows is the largest number of data rows one import session accepts.
const MaxRows = 1000

var (
	ErrTooManyRows  = fmt.Errorf("spreadsheet has more than %d data rows", MaxRows)
	ErrInvalidEvent = errors.New("invalid mapping event")
)

// Session is the state of one import between upload and commit. It lives in
// memory only.
type Session struct {
	ID        string          `json:"id"`
	FileName  string          `json:"fileName"`
	SheetName string          `json:"sheetName"`
	Columns   []sheet.Column  `json:"columns"`
	Rows      [][]string      `json:"-"`
	RowCount  int             `json:"rowCount"`
	Mappings  []ColumnMapping `json:"mappings"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewSession wraps a parsed spreadsheet and proposes the initial mapping.
func NewSession(fileName string, sp *sheet.Spreadsheet, fields []catalog.FieldDescriptor, maxRows int) (*Session, error) {
	if maxRows <= 0 {
		maxRows = MaxRows
	}
	if len(sp.Rows) > maxRows {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyRows, len(sp.Rows))
	}
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		FileName:  fileName,
		SheetName: sp.SheetName,
		Columns:   sp.Columns,
		Rows:      sp.Rows,
		RowCount:  len(sp.Rows),
		Mappings:  AutoMap(sp.Columns, fields),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type EventType string

const (
	EventSetTarget       EventType = "set_target"
	EventSetNewFieldName EventType = "set_new_field_name"
	EventSetNewFieldType EventType = "set_new_field_type"
	EventSetSubMapping   EventType = "set_sub_mapping"
)

// Event is one user edit of the mapping table.
type Event struct {
	Type     EventType       `json:"type"`
	Column   int             `json:"column"`
	Target   Target          `json:"target"`
	Name     string          `json:"name,omitempty"`
	DataType catalog.TypeTag `json:"dataType,omitempty"`
	SubField sheet.SubField  `json:"subField,omitempty"`
}

// Apply returns the mappings after one event. The input slice is not
// modified. Later events on the same column overwrite earlier ones.
func Apply(columns []sheet.Column, mappings []ColumnMapping, ev Event) ([]ColumnMapping, error) {
	if ev.Column < 0 || ev.Column >= len(mappings) {
		return nil, fmt.Errorf("%w: column %d out of range", ErrInvalidEvent, ev.Column)
	}

	next := make([]ColumnMapping, len(mappings))
	copy(next, mappings)
	m := next[ev.Column]
	if m.SubMappings != nil {
		subs := *m.SubMappings
		m.SubMappings = &subs
	}

	switch ev.Type {
	case EventSetTarget:
		m.Target = ev.Target
	case EventSetNewFieldName:
		m.NewFieldName = ev.Name
	case EventSetNewFieldType:
		if !ev.DataType.Valid() {
			return nil, fmt.Errorf("%w: unknown data type %q", ErrInvalidEvent, ev.DataType)
		}
		m.NewFieldType = ev.DataType
	case EventSetSubMapping:
		if ev.Column >= len(columns) || !columns[ev.Column].HasCombinedData || m.SubMappings == nil {
			return nil, fmt.Errorf("%w: column %q has no combined data", ErrInvalidEvent, m.ExcelColumn)
		}
		if !m.SubMappings.set(ev.SubField, ev.Target) {
			return nil, fmt.Errorf("%w: unknown sub-field %q", ErrInvalidEvent, ev.SubField)
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}

	next[ev.Column] = m
	return next, nil
}

// Apply runs the events in order and keeps none of them if any fails.
func (s *Session) Apply(events ...Event) error {
	mappings := s.Mappings
	for _, ev := range events {
		var err error
		mappings, err = Apply(s.Columns, mappings, ev)
		if err != nil {
			return err
		}
	}
	s.Mappings = mappings
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Refresh re-proposes every mapping after the field schema changed. User
// edits are discarded.
func (s *Session) Refresh(fields []catalog.FieldDescriptor) {
	s.Mappings = AutoMap(s.Columns, fields)
	s.UpdatedAt = time.Now().UTC()
}

// SelectedTargets lists the field ids the session's mappings currently claim.
func (s *Session) SelectedTargets() []string {
	set := SelectedTargets(s.Mappings)
	out := make([]string, 0, len(set))
	for _, m := range s.Mappings {
		for _, id := range mappingFieldIDs(m) {
			if _, ok := set[id]; ok {
				out = append(out, id)
				delete(set, id)
			}
		}
	}
	return out
}

func mappingFieldIDs(m ColumnMapping) []string {
	var ids []string
	if m.Target.Kind == TargetField {
		ids = append(ids, m.Target.FieldID)
	}
	if m.SubMappings != nil {
		for _, f := range sheet.SubFields {
			if t := m.SubMappings.Get(f); t.Kind == TargetField {
				ids = append(ids, t.FieldID)
			}
		}
	}
	return ids
}

// Plan snapshots the session for execution.
func (s *Session) Plan(mode Mode) Plan {
	return Plan{
		FileName: s.FileName,
		Columns:  s.Columns,
		Rows:     s.Rows,
		Mappings: s.Mappings,
		Mode:     mode,
	}
}
