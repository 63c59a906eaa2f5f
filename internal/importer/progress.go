package importer

import "strings"

type Phase string

const (
	PhaseFields Phase = "fields"
	PhaseRows   Phase = "rows"
	PhaseDone   Phase = "done"
	PhaseFailed Phase = "failed"
)

// Progress is a point-in-time view of a running import.
type Progress struct {
	Phase         Phase  `json:"phase"`
	FieldsTotal   int    `json:"fieldsTotal"`
	FieldsDone    int    `json:"fieldsDone"`
	RowsTotal     int    `json:"rowsTotal"`
	RowsDone      int    `json:"rowsDone"`
	SuccessCount  int    `json:"successCount"`
	ErrorCount    int    `json:"errorCount"`
	SkippedCount  int    `json:"skippedCount"`
	NotFoundCount int    `json:"notFoundCount"`
	Error         string `json:"error,omitempty"`
}

// Observer receives a snapshot after every field and every row. It runs on
// the executing goroutine and must not block.
type Observer func(Progress)

type tracker struct {
	observe Observer
	p       Progress
}

func newTracker(plan Plan, observe Observer) *tracker {
	t := &tracker{observe: observe, p: Progress{Phase: PhaseFields, RowsTotal: len(plan.Rows)}}
	for _, m := range plan.Mappings {
		if m.Target.Kind == TargetNew && strings.TrimSpace(m.NewFieldName) != "" {
			t.p.FieldsTotal++
		}
	}
	t.emit()
	return t
}

func (t *tracker) field(*Report) {
	t.p.FieldsDone++
	t.emit()
}

func (t *tracker) row(r *Report) {
	t.p.Phase = PhaseRows
	t.p.RowsDone++
	t.counts(r)
	t.emit()
}

func (t *tracker) finish(r *Report, err error) {
	t.counts(r)
	t.p.Phase = PhaseDone
	if err != nil {
		t.p.Phase = PhaseFailed
		t.p.Error = err.Error()
	}
	t.emit()
}

func (t *tracker) counts(r *Report) {
	t.p.SuccessCount = r.SuccessCount
	t.p.ErrorCount = r.ErrorCount
	t.p.SkippedCount = r.SkippedCount
	t.p.NotFoundCount = r.NotFoundCount
}

func (t *tracker) emit() {
	if t.observe != nil {
		t.observe(t.p)
	}
}
