package importer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/logging"
	"github.com/mjhen/medstock/server/internal/sheet"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrMissingRequiredField = errors.New("a column must be mapped to the product name")
	ErrMissingProductCode   = errors.New("update imports need a column mapped to the product code")
	ErrInvalidMode          = errors.New("import mode must be create or update")
)

// DuplicateFieldNameError lists new-field names requested by more than one
// column.
type DuplicateFieldNameError struct {
	Names   []string
	Columns []string
}

func (e *DuplicateFieldNameError) Error() string {
	return fmt.Sprintf("duplicate new field names %s (columns %s)",
		strings.Join(e.Names, ", "), strings.Join(e.Columns, ", "))
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeCreate:
		return ModeCreate, nil
	case ModeUpdate:
		return ModeUpdate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
}

type Plan struct {
	FileName string
	Columns  []sheet.Column
	Rows     [][]string
	Mappings []ColumnMapping
	Mode     Mode
}

// Store is the part of the catalog an import writes to.
type Store interface {
	CreateField(ctx context.Context, in catalog.CreateFieldInput) (catalog.FieldDescriptor, error)
	CreateProduct(ctx context.Context, rec catalog.ProductRecord) (catalog.Product, error)
	FindProductByCode(ctx context.Context, code string) (catalog.Product, error)
	UpdateProduct(ctx context.Context, id string, rec catalog.ProductRecord) (catalog.Product, error)
}

type RowStatus string

const (
	RowImported RowStatus = "imported"
	RowUpdated  RowStatus = "updated"
	RowSkipped  RowStatus = "skipped"
	RowNotFound RowStatus = "not_found"
	RowFailed   RowStatus = "failed"
)

type RowResult struct {
	Row       int       `json:"row"`
	Status    RowStatus `json:"status"`
	ProductID string    `json:"productId,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type FieldError struct {
	Column string `json:"column"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

type Report struct {
	Mode          Mode              `json:"mode"`
	SuccessCount  int               `json:"successCount"`
	ErrorCount    int               `json:"errorCount"`
	SkippedCount  int               `json:"skippedCount"`
	NotFoundCount int               `json:"notFoundCount"`
	CreatedFields map[string]string `json:"createdFields"`
	FieldErrors   []FieldError      `json:"fieldErrors"`
	Rows          []RowResult       `json:"rows"`
}

// ---------------------------------------------------------------------------
// Executor
// ---------------------------------------------------------------------------

type Executor struct {
	store  Store
	logger *zap.Logger
}

func NewExecutor(store Store, logger *zap.Logger) *Executor {
	return &Executor{store: store, logger: logging.OrNop(logger)}
}

// Validate checks the preconditions that must hold before anything is
// written.
func Validate(plan Plan) error {
	required := catalog.FieldName
	missing := ErrMissingRequiredField
	if plan.Mode == ModeUpdate {
		required, missing = catalog.FieldProductCode, ErrMissingProductCode
	}
	found := false
	for _, m := range plan.Mappings {
		if m.Target.IsField(required) {
			found = true
			break
		}
	}
	if !found {
		return missing
	}

	// Names compare exactly; the registry's case-insensitive check catches the rest.
	firstColumn := map[string]string{}
	reported := map[string]bool{}
	dup := &DuplicateFieldNameError{}
	for _, m := range plan.Mappings {
		if m.Target.Kind != TargetNew {
			continue
		}
		first, ok := firstColumn[m.NewFieldName]
		if !ok {
			firstColumn[m.NewFieldName] = m.ExcelColumn
			continue
		}
		if !reported[m.NewFieldName] {
			reported[m.NewFieldName] = true
			dup.Names = append(dup.Names, m.NewFieldName)
			dup.Columns = append(dup.Columns, first)
		}
		dup.Columns = append(dup.Columns, m.ExcelColumn)
	}
	if len(dup.Names) > 0 {
		return dup
	}
	return nil
}

// Execute creates the requested fields, then writes one product per row.
// Field and row failures are recorded and do not stop the run; nothing
// already written is rolled back.
func (e *Executor) Execute(ctx context.Context, plan Plan, observe Observer) (*Report, error) {
	if plan.Mode == "" {
		plan.Mode = ModeCreate
	}
	if plan.Mode != ModeCreate && plan.Mode != ModeUpdate {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, plan.Mode)
	}
	if err := Validate(plan); err != nil {
		return nil, err
	}

	tracker := newTracker(plan, observe)
	report := &Report{
		Mode:          plan.Mode,
		CreatedFields: map[string]string{},
		FieldErrors:   []FieldError{},
		Rows:          make([]RowResult, 0, len(plan.Rows)),
	}

	e.createFields(ctx, plan, report, tracker)

	for i, row := range plan.Rows {
		if err := ctx.Err(); err != nil {
			tracker.finish(report, err)
			return report, err
		}
		res := e.importRow(ctx, plan, report.CreatedFields, i+2, row)
		report.Rows = append(report.Rows, res)
		switch res.Status {
		case RowImported, RowUpdated:
			report.SuccessCount++
		case RowSkipped:
			report.SkippedCount++
		case RowNotFound:
			report.NotFoundCount++
		case RowFailed:
			report.ErrorCount++
		}
		tracker.row(report)
	}

	tracker.finish(report, nil)
	e.logger.Info("import finished",
		zap.String("file", plan.FileName),
		zap.String("mode", string(plan.Mode)),
		zap.Int("success", report.SuccessCount),
		zap.Int("errors", report.ErrorCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("not_found", report.NotFoundCount),
	)
	return report, nil
}

func (e *Executor) createFields(ctx context.Context, plan Plan, report *Report, tracker *tracker) {
	for _, m := range plan.Mappings {
		if m.Target.Kind != TargetNew {
			continue
		}
		name := strings.TrimSpace(m.NewFieldName)
		if name == "" {
			continue
		}
		dataType := m.NewFieldType
		if dataType == "" {
			dataType = catalog.TypeText
		}
		f, err := e.store.CreateField(ctx, catalog.CreateFieldInput{Name: name, DataType: dataType})
		if err != nil {
			e.logger.Warn("create import field failed",
				zap.String("column", m.ExcelColumn), zap.String("name", name), zap.Error(err))
			report.FieldErrors = append(report.FieldErrors, FieldError{Column: m.ExcelColumn, Name: name, Error: err.Error()})
		} else {
			report.CreatedFields[m.ExcelColumn] = f.ID
		}
		tracker.field(report)
	}
}

// importRow folds one spreadsheet row into a product write. rowNumber is the
// 1-based sheet row, header included.
func (e *Executor) importRow(ctx context.Context, plan Plan, created map[string]string, rowNumber int, row []string) RowResult {
	res := RowResult{Row: rowNumber}
	rec := buildRecord(plan, created, row)

	var (
		p   catalog.Product
		err error
	)
	switch plan.Mode {
	case ModeUpdate:
		if rec.ProductCode == "" {
			err = errors.New("product code is empty")
			break
		}
		var existing catalog.Product
		existing, err = e.store.FindProductByCode(ctx, rec.ProductCode)
		if errors.Is(err, catalog.ErrNotFound) {
			res.Status = RowNotFound
			return res
		}
		if err != nil {
			break
		}
		p, err = e.store.UpdateProduct(ctx, existing.ID, mergeRecord(existing.ProductRecord, rec))
		res.Status = RowUpdated
	default:
		if rec.Name == "" {
			res.Status = RowSkipped
			return res
		}
		p, err = e.store.CreateProduct(ctx, rec)
		res.Status = RowImported
	}

	if err != nil {
		e.logger.Warn("import row failed", zap.Int("row", rowNumber), zap.Error(err))
		return RowResult{Row: rowNumber, Status: RowFailed, Error: err.Error()}
	}
	res.ProductID = p.ID
	return res
}

func buildRecord(plan Plan, created map[string]string, row []string) catalog.ProductRecord {
	rec := catalog.ProductRecord{CustomFields: map[string]string{}}
	for i, m := range plan.Mappings {
		value := strings.TrimSpace(sheet.Cell(row, i))
		if value == "" || m.Target.IsIgnore() {
			continue
		}
		assign(&rec, m.Target, value, created[m.ExcelColumn])

		if m.SubMappings == nil || i >= len(plan.Columns) || !plan.Columns[i].HasCombinedData {
			continue
		}
		extracted := sheet.ExtractCombined(value)
		if extracted == nil {
			continue
		}
		for _, f := range sheet.SubFields {
			v := extracted.Get(f)
			t := m.SubMappings.Get(f)
			if v == "" || !t.IsSet() || t.IsIgnore() {
				continue
			}
			assign(&rec, t, v, created[m.ExcelColumn])
		}
	}
	return rec
}

// assign writes one value to the record slot a target names. newFieldID is
// the field created for the column, if any.
func assign(rec *catalog.ProductRecord, t Target, value, newFieldID string) {
	switch t.Kind {
	case TargetNew:
		if newFieldID != "" {
			rec.CustomFields[newFieldID] = value
		}
		return
	case TargetField:
	default:
		return
	}

	switch t.FieldID {
	case catalog.FieldName:
		rec.Name = value
	case catalog.FieldQuantity:
		q := quantityOf(value)
		rec.Quantity = &q
	case catalog.FieldSerialNumber:
		rec.SerialNumber = value
	case catalog.FieldLotNumber:
		rec.LotNumber = value
	case catalog.FieldExpiryDate:
		rec.ExpiryDate = value
	case catalog.FieldUBBCode:
		rec.UBBCode = value
	case catalog.FieldProductCode:
		rec.ProductCode = value
	default:
		rec.CustomFields[t.FieldID] = value
	}
}

// quantityOf coerces a cell to a whole quantity; anything unparsable is 0.
func quantityOf(value string) int {
	f, ok := sheet.ParseNumber(value)
	if !ok || math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

// mergeRecord overlays the non-empty values of an import row on an existing
// product.
func mergeRecord(existing, in catalog.ProductRecord) catalog.ProductRecord {
	out := existing
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.Quantity != nil {
		out.Quantity = in.Quantity
	}
	if in.SerialNumber != "" {
		out.SerialNumber = in.SerialNumber
	}
	if in.LotNumber != "" {
		out.LotNumber = in.LotNumber
	}
	if in.ExpiryDate != "" {
		out.ExpiryDate = in.ExpiryDate
	}
	if in.UBBCode != "" {
		out.UBBCode = in.UBBCode
	}
	out.CustomFields = make(map[string]string, len(existing.CustomFields)+len(in.CustomFields))
	for k, v := range existing.CustomFields {
		out.CustomFields[k] = v
	}
	for k, v := range in.CustomFields {
		out.CustomFields[k] = v
	}
	return out
}
