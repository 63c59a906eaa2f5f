package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/sheet"
)

// SubMappings routes the values extracted from a combined column.
type SubMappings struct {
	Seri Target `json:"seri"`
	Lot  Target `json:"lot"`
	Skt  Target `json:"skt"`
	Ubb  Target `json:"ubb"`
}

func (s SubMappings) Get(f sheet.SubField) Target {
	switch f {
	case sheet.SubSeri:
		return s.Seri
	case sheet.SubLot:
		return s.Lot
	case sheet.SubSkt:
		return s.Skt
	case sheet.SubUbb:
		return s.Ubb
	}
	return Unmapped()
}

func (s *SubMappings) set(f sheet.SubField, t Target) bool {
	switch f {
	case sheet.SubSeri:
		s.Seri = t
	case sheet.SubLot:
		s.Lot = t
	case sheet.SubSkt:
		s.Skt = t
	case sheet.SubUbb:
		s.Ubb = t
	default:
		return false
	}
	return true
}

type ColumnMapping struct {
	ExcelColumn  string          `json:"excelColumn"`
	Target       Target          `json:"targetField"`
	NewFieldName string          `json:"newFieldName"`
	NewFieldType catalog.TypeTag `json:"newFieldType"`
	SubMappings  *SubMappings    `json:"subMappings,omitempty"`
}

// subFieldDefaults is where an extracted value goes before the user changes it.
var subFieldDefaults = map[sheet.SubField]string{
	sheet.SubSeri: catalog.FieldSerialNumber,
	sheet.SubLot:  catalog.FieldLotNumber,
	sheet.SubSkt:  catalog.FieldExpiryDate,
	sheet.SubUbb:  catalog.FieldUBBCode,
}

// Header keywords, already folded. Turkish and English spellings.
var (
	productWords  = []string{"urun", "product"}
	nameWords     = []string{"ad", "name"}
	quantityWords = []string{"miktar", "adet", "stok", "quantity", "qty", "stock"}
	// Matched as whole words only; "count" sits inside "country" and "discount".
	quantityTerms = []string{"count"}
	serialWords   = []string{"seri", "serial"}
	lotWords      = []string{"lot"}
	expiryWords   = []string{"skt", "son kullan", "expiry", "expiration"}
	ubbWords      = []string{"ubb"}
	codeWords     = []string{"kod", "code"}
	materialWords = []string{"malzeme", "material"}
)

// keywordRules run in order; the first rule whose predicate matches wins.
var keywordRules = []struct {
	field string
	match func(h string) bool
}{
	{catalog.FieldName, func(h string) bool { return containsAny(h, productWords) && containsAny(h, nameWords) }},
	{catalog.FieldQuantity, func(h string) bool { return containsAny(h, quantityWords) || containsWord(h, quantityTerms) }},
	{catalog.FieldSerialNumber, func(h string) bool { return containsAny(h, serialWords) && !containsAny(h, lotWords) }},
	{catalog.FieldLotNumber, func(h string) bool { return containsAny(h, lotWords) }},
	{catalog.FieldExpiryDate, func(h string) bool { return containsAny(h, expiryWords) }},
	{catalog.FieldUBBCode, func(h string) bool { return containsAny(h, ubbWords) }},
	{catalog.FieldProductCode, func(h string) bool {
		return containsAny(h, codeWords) && (containsAny(h, productWords) || containsAny(h, materialWords))
	}},
}

// AutoMap proposes a mapping for every column against the current schema.
func AutoMap(columns []sheet.Column, fields []catalog.FieldDescriptor) []ColumnMapping {
	out := make([]ColumnMapping, len(columns))
	for i, col := range columns {
		out[i] = autoMapColumn(col, fields)
	}
	return out
}

func autoMapColumn(col sheet.Column, fields []catalog.FieldDescriptor) ColumnMapping {
	m := ColumnMapping{
		ExcelColumn:  col.Name,
		Target:       Unmapped(),
		NewFieldName: col.Name,
		NewFieldType: col.DataType,
		SubMappings:  seedSubMappings(col),
	}

	key := catalog.NameKey(col.Name)
	for _, f := range fields {
		if catalog.NameKey(f.Name) == key {
			m.Target = Field(f.ID)
			return m
		}
	}

	header := foldHeader(col.Name)
	for _, rule := range keywordRules {
		if rule.match(header) {
			m.Target = Field(rule.field)
			return m
		}
	}
	return m
}

// seedSubMappings gives every sub-field seen in the extracted samples its
// built-in default target. Sub-fields never seen stay unmapped.
func seedSubMappings(col sheet.Column) *SubMappings {
	if !col.HasCombinedData {
		return nil
	}
	subs := &SubMappings{}
	for _, f := range sheet.SubFields {
		for _, e := range col.ExtractedSamples {
			if e.Get(f) != "" {
				subs.set(f, Field(subFieldDefaults[f]))
				break
			}
		}
	}
	return subs
}

// SelectedTargets lists the field ids already claimed by a main or sub mapping.
// It is advisory; nothing stops two columns from targeting the same field.
func SelectedTargets(mappings []ColumnMapping) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range mappings {
		if m.Target.Kind == TargetField {
			out[m.Target.FieldID] = struct{}{}
		}
		if m.SubMappings == nil {
			continue
		}
		for _, f := range sheet.SubFields {
			if t := m.SubMappings.Get(f); t.Kind == TargetField {
				out[t.FieldID] = struct{}{}
			}
		}
	}
	return out
}

// foldHeader lower-cases a header and strips diacritics so "ÜRÜN ADI",
// "Ürün adı" and "urun adi" compare equal.
func foldHeader(header string) string {
	lowered := cases.Lower(language.Und).String(strings.TrimSpace(header))
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}
	return strings.ReplaceAll(folded, "ı", "i")
}

func containsWord(s string, words []string) bool {
	for _, token := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, w := range words {
			if token == w {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
