package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDuplicateName = errors.New("duplicate name")
)

// ---------------------------------------------------------------------------
// Field schema
// ---------------------------------------------------------------------------

// TypeTag is the declared or inferred data type of a field or spreadsheet column.
type TypeTag string

const (
	TypeText   TypeTag = "text"
	TypeNumber TypeTag = "number"
	TypeDate   TypeTag = "date"
	TypeMixed  TypeTag = "mixed"
	TypeNone   TypeTag = "none"
)

func (t TypeTag) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeMixed, TypeNone:
		return true
	}
	return false
}

func ParseTypeTag(raw string) (TypeTag, error) {
	t := TypeTag(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return TypeText, nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown data type %q", ErrInvalidInput, raw)
	}
	return t, nil
}

// Built-in field ids. User-created fields get UUID ids.
const (
	FieldName         = "name"
	FieldQuantity     = "quantity"
	FieldSerialNumber = "serial_number"
	FieldLotNumber    = "lot_number"
	FieldExpiryDate   = "expiry_date"
	FieldUBBCode      = "ubb_code"
	FieldProductCode  = "product_code"
)

type FieldDescriptor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DataType     TypeTag   `json:"dataType"`
	IsDefault    bool      `json:"isDefault"`
	IsActive     bool      `json:"isActive"`
	IsClassified bool      `json:"isClassified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DefaultFields lists the built-in product fields in display order.
var DefaultFields = []FieldDescriptor{
	{ID: FieldName, Name: "Ürün Adı", DataType: TypeText, IsDefault: true, IsActive: true},
	{ID: FieldQuantity, Name: "Miktar", DataType: TypeNumber, IsDefault: true, IsActive: true},
	{ID: FieldSerialNumber, Name: "Seri No", DataType: TypeText, IsDefault: true, IsActive: true},
	{ID: FieldLotNumber, Name: "Lot No", DataType: TypeText, IsDefault: true, IsActive: true},
	{ID: FieldExpiryDate, Name: "SKT", DataType: TypeDate, IsDefault: true, IsActive: true},
	{ID: FieldUBBCode, Name: "UBB", DataType: TypeText, IsDefault: true, IsActive: true},
	{ID: FieldProductCode, Name: "Ürün Kodu", DataType: TypeText, IsDefault: true, IsActive: true},
}

func IsBuiltinField(id string) bool {
	for _, f := range DefaultFields {
		if f.ID == id {
			return true
		}
	}
	return false
}

type CreateFieldInput struct {
	Name     string  `json:"name"`
	DataType TypeTag `json:"dataType"`
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// ProductRecord carries the writable product attributes. Custom values are
// keyed by field id.
type ProductRecord struct {
	Name         string            `json:"name"`
	Quantity     *int              `json:"quantity,omitempty"`
	SerialNumber string            `json:"serialNumber,omitempty"`
	LotNumber    string            `json:"lotNumber,omitempty"`
	ExpiryDate   string            `json:"expiryDate,omitempty"`
	UBBCode      string            `json:"ubbCode,omitempty"`
	ProductCode  string            `json:"productCode,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

type Product struct {
	ID string `json:"id"`
	ProductRecord
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProductQuery struct {
	Search string
	Limit  int
}

// NameKey folds a display name for case-insensitive uniqueness checks.
// strings.ToLower is not enough for Turkish headers such as "ÜRÜN".
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
