package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mjhen/medstock/server/internal/catalog"
)

// memStore is an in-memory Store that can be told to fail specific writes.
type memStore struct {
	fields      []catalog.FieldDescriptor
	products    []catalog.Product
	failField   map[string]error
	failProduct map[string]error
	calls       []string
}

func newMemStore() *memStore {
	return &memStore{failField: map[string]error{}, failProduct: map[string]error{}}
}

func (m *memStore) CreateField(_ context.Context, in catalog.CreateFieldInput) (catalog.FieldDescriptor, error) {
	m.calls = append(m.calls, "field:"+in.Name)
	if err := m.failField[in.Name]; err != nil {
		return catalog.FieldDescriptor{}, err
	}
	f := catalog.FieldDescriptor{ID: fmt.Sprintf("f%d", len(m.fields)+1), Name: in.Name, DataType: in.DataType, IsActive: true}
	m.fields = append(m.fields, f)
	return f, nil
}

func (m *memStore) CreateProduct(_ context.Context, rec catalog.ProductRecord) (catalog.Product, error) {
	m.calls = append(m.calls, "product:"+rec.Name)
	if err := m.failProduct[rec.Name]; err != nil {
		return catalog.Product{}, err
	}
	for _, p := range m.products {
		if strings.EqualFold(p.Name, rec.Name) {
			return catalog.Product{}, catalog.ErrDuplicateName
		}
	}
	p := catalog.Product{ID: fmt.Sprintf("p%d", len(m.products)+1), ProductRecord: rec}
	m.products = append(m.products, p)
	return p, nil
}

func (m *memStore) FindProductByCode(_ context.Context, code string) (catalog.Product, error) {
	for _, p := range m.products {
		if p.ProductCode == code {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (m *memStore) UpdateProduct(_ context.Context, id string, rec catalog.ProductRecord) (catalog.Product, error) {
	m.calls = append(m.calls, "update:"+id)
	for i, p := range m.products {
		if p.ID == id {
			m.products[i].ProductRecord = rec
			return m.products[i], nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

var errStoreDown = errors.New("store unavailable")
