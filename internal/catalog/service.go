package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultProductLimit = 200

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Service is the field schema registry and product store. Queries stay within
// the SQL subset shared by Postgres and SQLite.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ========================== FIELDS ==========================

const fieldColumns = `id, name, data_type, is_default, is_active, is_classified, created_at`

func scanField(row interface{ Scan(...any) error }) (FieldDescriptor, error) {
	var f FieldDescriptor
	var dataType string
	if err := row.Scan(&f.ID, &f.Name, &dataType, &f.IsDefault, &f.IsActive, &f.IsClassified, &f.CreatedAt); err != nil {
		return FieldDescriptor{}, err
	}
	f.DataType = TypeTag(dataType)
	return f, nil
}

func (s *Service) ListFields(ctx context.Context, includeInactive bool) ([]FieldDescriptor, error) {
	query := `SELECT ` + fieldColumns + ` FROM product_fields`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY sort_order, created_at, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	out := []FieldDescriptor{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Service) GetField(ctx context.Context, id string) (FieldDescriptor, error) {
	return getField(ctx, s.db, id)
}

func getField(ctx context.Context, q querier, id string) (FieldDescriptor, error) {
	f, err := scanField(q.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM product_fields WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FieldDescriptor{}, ErrNotFound
	}
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("get field: %w", err)
	}
	return f, nil
}

// CreateField registers a user field. Names are unique case-insensitively,
// built-in names included.
func (s *Service) CreateField(ctx context.Context, in CreateFieldInput) (FieldDescriptor, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return FieldDescriptor{}, fmt.Errorf("%w: field name is required", ErrInvalidInput)
	}
	dataType, err := ParseTypeTag(string(in.DataType))
	if err != nil {
		return FieldDescriptor{}, err
	}
	if dataType == TypeNone {
		dataType = TypeText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("begin create field tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureFieldNameFree(ctx, tx, name, ""); err != nil {
		return FieldDescriptor{}, err
	}

	f := FieldDescriptor{
		ID:        uuid.NewString(),
		Name:      name,
		DataType:  dataType,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO product_fields (id, name, name_key, data_type, is_default, is_active, is_classified, sort_order, created_at)
		VALUES ($1, $2, $3, $4, FALSE, TRUE, FALSE, 100, $5)
	`, f.ID, f.Name, NameKey(f.Name), string(f.DataType), f.CreatedAt)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("insert field: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return FieldDescriptor{}, fmt.Errorf("commit create field: %w", err)
	}
	return f, nil
}

func (s *Service) RenameField(ctx context.Context, id, name string) (FieldDescriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FieldDescriptor{}, fmt.Errorf("%w: field name is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("begin rename field tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getField(ctx, tx, id); err != nil {
		return FieldDescriptor{}, err
	}
	if err := ensureFieldNameFree(ctx, tx, name, id); err != nil {
		return FieldDescriptor{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE product_fields SET name = $1, name_key = $2 WHERE id = $3`, name, NameKey(name), id); err != nil {
		return FieldDescriptor{}, fmt.Errorf("rename field: %w", err)
	}
	f, err := getField(ctx, tx, id)
	if err != nil {
		return FieldDescriptor{}, err
	}
	if err := tx.Commit(); err != nil {
		return FieldDescriptor{}, fmt.Errorf("commit rename field: %w", err)
	}
	return f, nil
}

func (s *Service) ToggleFieldActive(ctx context.Context, id string) (FieldDescriptor, error) {
	return s.toggleField(ctx, id, "is_active")
}

func (s *Service) ToggleFieldClassified(ctx context.Context, id string) (FieldDescriptor, error) {
	return s.toggleField(ctx, id, "is_classified")
}

func (s *Service) toggleField(ctx context.Context, id, column string) (FieldDescriptor, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE product_fields SET `+column+` = NOT `+column+` WHERE id = $1`, id)
	if err != nil {
		return FieldDescriptor{}, fmt.Errorf("toggle field %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return FieldDescriptor{}, ErrNotFound
	}
	return s.GetField(ctx, id)
}

// DeleteField removes a user field and every product value stored under it.
func (s *Service) DeleteField(ctx context.Context, id string) error {
	if IsBuiltinField(id) {
		return fmt.Errorf("%w: built-in field %q cannot be deleted", ErrInvalidInput, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete field tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_custom_values WHERE field_id = $1`, id); err != nil {
		return fmt.Errorf("delete field values: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM product_fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func ensureFieldNameFree(ctx context.Context, q querier, name, exceptID string) error {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM product_fields WHERE name_key = $1 AND id <> $2`, NameKey(name), exceptID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check field name: %w", err)
	}
	return fmt.Errorf("%w: field %q already exists", ErrDuplicateName, name)
}

// ========================== PRODUCTS ==========================

const productColumns = `id, name, quantity, COALESCE(serial_number,''), COALESCE(lot_number,''), COALESCE(expiry_date,''),
	COALESCE(ubb_code,''), COALESCE(product_code,''), created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var p Product
	var qty sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &qty, &p.SerialNumber, &p.LotNumber, &p.ExpiryDate,
		&p.UBBCode, &p.ProductCode, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	if qty.Valid {
		v := int(qty.Int64)
		p.Quantity = &v
	}
	return p, nil
}

func (s *Service) CreateProduct(ctx context.Context, rec ProductRecord) (Product, error) {
	rec = normalizeRecord(rec)
	if rec.Name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Product{}, fmt.Errorf("begin create product tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureProductUnique(ctx, tx, rec, ""); err != nil {
		return Product{}, err
	}

	now := s.now()
	p := Product{ID: uuid.NewString(), ProductRecord: rec, CreatedAt: now, UpdatedAt: now}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, name_key, quantity, serial_number, lot_number, expiry_date, ubb_code, product_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $10)
	`, p.ID, rec.Name, NameKey(rec.Name), nullableInt(rec.Quantity), rec.SerialNumber, rec.LotNumber,
		rec.ExpiryDate, rec.UBBCode, rec.ProductCode, now)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	if err := writeCustomValues(ctx, tx, p.ID, rec.CustomFields); err != nil {
		return Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return Product{}, fmt.Errorf("commit create product: %w", err)
	}
	return p, nil
}

// UpdateProduct replaces every writable attribute of a product, custom values
// included.
func (s *Service) UpdateProduct(ctx context.Context, id string, rec ProductRecord) (Product, error) {
	rec = normalizeRecord(rec)
	if rec.Name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Product{}, fmt.Errorf("begin update product tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureProductUnique(ctx, tx, rec, id); err != nil {
		return Product{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE products SET
			name = $2, name_key = $3, quantity = $4,
			serial_number = NULLIF($5, ''), lot_number = NULLIF($6, ''), expiry_date = NULLIF($7, ''),
			ubb_code = NULLIF($8, ''), product_code = NULLIF($9, ''), updated_at = $10
		WHERE id = $1
	`, id, rec.Name, NameKey(rec.Name), nullableInt(rec.Quantity), rec.SerialNumber, rec.LotNumber,
		rec.ExpiryDate, rec.UBBCode, rec.ProductCode, s.now())
	if err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Product{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_custom_values WHERE product_id = $1`, id); err != nil {
		return Product{}, fmt.Errorf("clear custom values: %w", err)
	}
	if err := writeCustomValues(ctx, tx, id, rec.CustomFields); err != nil {
		return Product{}, err
	}

	p, err := getProduct(ctx, tx, `id = $1`, id)
	if err != nil {
		return Product{}, err
	}
	if err := tx.Commit(); err != nil {
		return Product{}, fmt.Errorf("commit update product: %w", err)
	}
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return getProduct(ctx, s.db, `id = $1`, id)
}

// FindProductByCode looks a product up by its product code, trimmed.
func (s *Service) FindProductByCode(ctx context.Context, code string) (Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, fmt.Errorf("%w: product code is required", ErrInvalidInput)
	}
	return getProduct(ctx, s.db, `product_code = $1`, code)
}

func getProduct(ctx context.Context, q querier, where string, arg any) (Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	values, err := loadCustomValues(ctx, q, []string{p.ID})
	if err != nil {
		return Product{}, err
	}
	p.CustomFields = values[p.ID]
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, query ProductQuery) ([]Product, error) {
	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultProductLimit
	}

	sqlText := `SELECT ` + productColumns + ` FROM products`
	args := []any{}
	if search := NameKey(query.Search); search != "" {
		sqlText += ` WHERE name_key LIKE $1 OR product_code LIKE $2`
		args = append(args, "%"+search+"%", "%"+strings.TrimSpace(query.Search)+"%")
	}
	sqlText += ` ORDER BY name_key LIMIT ` + strconv.Itoa(limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []Product{}
	ids := []string{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	values, err := loadCustomValues(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CustomFields = values[out[i].ID]
	}
	return out, nil
}

func ensureProductUnique(ctx context.Context, q querier, rec ProductRecord, exceptID string) error {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM products WHERE name_key = $1 AND id <> $2`, NameKey(rec.Name), exceptID).Scan(&id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: product %q already exists", ErrDuplicateName, rec.Name)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check product name: %w", err)
	}

	if rec.ProductCode == "" {
		return nil
	}
	err = q.QueryRowContext(ctx, `SELECT id FROM products WHERE product_code = $1 AND id <> $2`, rec.ProductCode, exceptID).Scan(&id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: product code %q already exists", ErrDuplicateName, rec.ProductCode)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check product code: %w", err)
	}
	return nil
}

func writeCustomValues(ctx context.Context, q querier, productID string, values map[string]string) error {
	for fieldID, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := getField(ctx, q, fieldID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, fieldID)
			}
			return err
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO product_custom_values (product_id, field_id, value) VALUES ($1, $2, $3)`,
			productID, fieldID, value); err != nil {
			return fmt.Errorf("insert custom value %s: %w", fieldID, err)
		}
	}
	return nil
}

func loadCustomValues(ctx context.Context, q querier, productIDs []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(productIDs))
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, field_id, value FROM product_custom_values WHERE product_id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("load custom values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, fieldID, value string
		if err := rows.Scan(&productID, &fieldID, &value); err != nil {
			return nil, fmt.Errorf("scan custom value: %w", err)
		}
		if out[productID] == nil {
			out[productID] = map[string]string{}
		}
		out[productID][fieldID] = value
	}
	return out, rows.Err()
}

func normalizeRecord(rec ProductRecord) ProductRecord {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.SerialNumber = strings.TrimSpace(rec.SerialNumber)
	rec.LotNumber = strings.TrimSpace(rec.LotNumber)
	rec.ExpiryDate = strings.TrimSpace(rec.ExpiryDate)
	rec.UBBCode = strings.TrimSpace(rec.UBBCode)
	rec.ProductCode = strings.TrimSpace(rec.ProductCode)
	return rec
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
