package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mjhen/medstock/server/internal/auth"
	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/config"
	"github.com/mjhen/medstock/server/internal/db"
	"github.com/mjhen/medstock/server/internal/history"
	"github.com/mjhen/medstock/server/internal/importer"
	"github.com/mjhen/medstock/server/internal/migrate"
)

const xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *App {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	src, err := migrate.Source(db.DialectSQLite, "")
	require.NoError(t, err)
	require.NoError(t, migrate.Run(ctx, database, src))

	cfg := config.Config{
		DatabaseURL:    ":memory:",
		MaxUploadBytes: 5 << 20,
		MaxImportRows:  1000,
		SessionTTL:     time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg, database, nil)
	require.NoError(t, err)
	a.pollPeriod = 10 * time.Millisecond
	t.Cleanup(func() { a.Close() })
	return a
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	name := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(name, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func uploadRequest(t *testing.T, fileName, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/v1/imports", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func do(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type sessionResponse struct {
	ID              string                   `json:"id"`
	RowCount        int                      `json:"rowCount"`
	Mappings        []importer.ColumnMapping `json:"mappings"`
	SelectedTargets []string                 `json:"selectedTargets"`
	Columns         []struct {
		Name            string `json:"name"`
		HasCombinedData bool   `json:"hasCombinedData"`
	} `json:"columns"`
}

func TestImportFlow(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	data := workbook(t, [][]any{
		{"Ürün Adı", "Miktar", "LOT/SKT", "Renk"},
		{"Vida X", 10, `LOT:ABC123\SKT:01.12.2025`, "mavi"},
		{"Plak Y", "abc", "", ""},
		{"", 4, "", "kırmızı"},
	})

	rec := do(t, h, uploadRequest(t, "stok.xlsx", xlsxType, data))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)
	assert.Equal(t, 3, session.RowCount)
	require.Len(t, session.Mappings, 4)
	assert.Equal(t, importer.Field(catalog.FieldName), session.Mappings[0].Target)
	assert.Equal(t, importer.Field(catalog.FieldQuantity), session.Mappings[1].Target)
	assert.True(t, session.Columns[2].HasCombinedData)
	require.NotNil(t, session.Mappings[2].SubMappings)
	assert.Equal(t, importer.Field(catalog.FieldExpiryDate), session.Mappings[2].SubMappings.Skt)
	assert.Equal(t, importer.Unmapped(), session.Mappings[3].Target)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/events",
		`{"events":[{"type":"set_target","column":3,"target":"NEW"},{"type":"set_new_field_type","column":3,"dataType":"text"}]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session = decode[sessionResponse](t, rec)
	assert.Equal(t, importer.CreateNew(), session.Mappings[3].Target)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/events",
		`{"events":[{"type":"set_target","column":0,"target":"IGNORE"},{"type":"set_target","column":42}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{"mode":"create"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[importer.Report](t, rec)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 1, report.SkippedCount)
	assert.Zero(t, report.ErrorCount)
	require.Contains(t, report.CreatedFields, "Renk")

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/products?search=vida", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode[struct {
		Products []catalog.Product `json:"products"`
	}](t, rec).Products
	require.Len(t, products, 1)
	vida := products[0]
	assert.Equal(t, "Vida X", vida.Name)
	require.NotNil(t, vida.Quantity)
	assert.Equal(t, 10, *vida.Quantity)
	assert.Equal(t, "ABC123", vida.LotNumber)
	assert.Equal(t, "2025-12-01", vida.ExpiryDate)
	assert.Equal(t, "mavi", vida.CustomFields[report.CreatedFields["Renk"]])

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/products/"+vida.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[struct {
		Entries []history.Entry `json:"entries"`
	}](t, rec).Entries
	require.Len(t, entries, 1)
	assert.Equal(t, "stok.xlsx", entries[0].Summary.FileName)
	assert.Equal(t, 2, entries[0].Summary.SuccessCount)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/history/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[history.VerifyResult](t, rec)
	assert.True(t, verified.Valid, verified.Message)
	assert.Equal(t, 1, verified.CheckedEvents)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/imports/"+session.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"report"`)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[importer.Report](t, rec)
	assert.Zero(t, second.SuccessCount)
	assert.Equal(t, 2, second.ErrorCount, "names already exist")
	require.Len(t, second.FieldErrors, 1)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/v1/imports/"+session.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/imports/"+session.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportRejections(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.MaxImportRows = 1 })
	h := a.Handler()

	rec := do(t, h, uploadRequest(t, "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = do(t, h, uploadRequest(t, "broken.xlsx", xlsxType, []byte("not a zip")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	big := workbook(t, [][]any{{"Ad"}, {"A"}, {"B"}})
	rec = do(t, h, uploadRequest(t, "big.xlsx", xlsxType, big))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/imports", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	one := workbook(t, [][]any{{"Açıklama"}, {"x"}})
	rec = do(t, h, uploadRequest(t, "one.xlsx", "", one))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{"mode":"merge"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/missing/commit", `{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateNewFieldNames(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	rec := do(t, h, uploadRequest(t, "dup.xlsx", xlsxType, workbook(t, [][]any{
		{"Ürün Adı", "A", "B"},
		{"Stent", "1", "2"},
	})))
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sessionResponse](t, rec)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/events", `{"events":[
		{"type":"set_target","column":1,"target":"NEW"},
		{"type":"set_new_field_name","column":1,"name":"Barkod"},
		{"type":"set_target","column":2,"target":"NEW"},
		{"type":"set_new_field_name","column":2,"name":"Barkod"}
	]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"names":["Barkod"],"columns":["A","B"]}`,
		string(decode[struct {
			Details json.RawMessage `json:"details"`
		}](t, rec).Details))

	fields, err := a.catalog.ListFields(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, fields, len(catalog.DefaultFields))
}

func TestRefreshPicksUpNewFields(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	rec := do(t, h, uploadRequest(t, "r.xlsx", xlsxType, workbook(t, [][]any{{"Ürün Adı", "Tedarikçi"}, {"A", "B"}})))
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sessionResponse](t, rec)
	assert.Equal(t, importer.Unmapped(), session.Mappings[1].Target)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/fields", `{"name":"Tedarikçi","dataType":"text"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	field := decode[catalog.FieldDescriptor](t, rec)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/imports/"+session.ID+"/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	session = decode[sessionResponse](t, rec)
	assert.Equal(t, importer.Field(field.ID), session.Mappings[1].Target)
	assert.Contains(t, session.SelectedTargets, field.ID)
}

func TestFieldEndpoints(t *testing.T) {
	h := newTestApp(t).Handler()

	rec := do(t, h, jsonRequest(http.MethodPost, "/v1/fields", `{"name":"Renk"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	field := decode[catalog.FieldDescriptor](t, rec)
	assert.Equal(t, catalog.TypeText, field.DataType)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/fields", `{"name":"RENK"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, jsonRequest(http.MethodPost, "/v1/fields", `{"name":"X","color":"red"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, jsonRequest(http.MethodPatch, "/v1/fields/"+field.ID, `{"name":"Renk Kodu"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renk Kodu", decode[catalog.FieldDescriptor](t, rec).Name)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/fields/"+field.ID+"/toggle-active", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[catalog.FieldDescriptor](t, rec).IsActive)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/fields", nil))
	active := decode[struct {
		Fields []catalog.FieldDescriptor `json:"fields"`
	}](t, rec).Fields
	assert.Len(t, active, len(catalog.DefaultFields))

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/fields?includeInactive=true", nil))
	all := decode[struct {
		Fields []catalog.FieldDescriptor `json:"fields"`
	}](t, rec).Fields
	assert.Len(t, all, len(catalog.DefaultFields)+1)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/v1/fields/"+field.ID+"/toggle-classified", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[catalog.FieldDescriptor](t, rec).IsClassified)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/v1/fields/"+catalog.FieldName, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/v1/fields/"+field.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/v1/fields/"+field.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/products?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyAndHealth(t *testing.T) {
	hash, err := auth.HashAPIKey("k1")
	require.NoError(t, err)
	h := newTestApp(t, func(c *config.Config) { c.APIKeyHash = hash }).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/v1/fields", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/v1/fields", nil)
	r.Header.Set("Authorization", "Bearer k1")
	rec = do(t, h, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = New(config.Config{APIKeyHash: "plain"}, nil, nil)
	assert.Error(t, err)
}

func TestImportProgressWebsocket(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	rec := do(t, a.Handler(), uploadRequest(t, "ws.xlsx", xlsxType, workbook(t, [][]any{{"Ürün Adı"}, {"A"}, {"B"}})))
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sessionResponse](t, rec)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/imports/" + session.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg["type"])

	rec = do(t, a.Handler(), jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		msg = map[string]any{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "done" {
			break
		}
	}
	report, ok := msg["report"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, report["successCount"])

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/imports/missing/ws", nil)
	assert.Error(t, err)
}

func TestImportProgressWebsocketReportsRejectedCommit(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	rec := do(t, a.Handler(), uploadRequest(t, "noname.xlsx", xlsxType, workbook(t, [][]any{{"Açıklama"}, {"x"}})))
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sessionResponse](t, rec)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/imports/"+session.ID+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg["type"])

	rec = do(t, a.Handler(), jsonRequest(http.MethodPost, "/v1/imports/"+session.ID+"/commit", `{}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		msg = map[string]any{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] != "heartbeat" && msg["type"] != "progress" {
			break
		}
	}
	assert.Equal(t, "failed", msg["type"])
	progress, ok := msg["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "failed", progress["phase"])
	assert.NotEmpty(t, progress["error"])
}
