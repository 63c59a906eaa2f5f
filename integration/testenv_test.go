package integration_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mjhen/medstock/server/internal/app"
	"github.com/mjhen/medstock/server/internal/auth"
	"github.com/mjhen/medstock/server/internal/config"
	internaldb "github.com/mjhen/medstock/server/internal/db"
	"github.com/mjhen/medstock/server/internal/migrate"
)

const integrationAPIKey = "integration-api-key"

type testEnv struct {
	t       *testing.T
	db      *sql.DB
	app     *app.App
	httpSrv *httptest.Server
	baseURL string
	client  *http.Client
}

func setupIntegrationEnv(t *testing.T) *testEnv {
	t.Helper()

	if strings.TrimSpace(os.Getenv("STOK_INTEGRATION")) != "1" {
		t.Skip("set STOK_INTEGRATION=1 to run integration tests")
	}

	testDSN := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDSN == "" {
		t.Skip("set TEST_DATABASE_URL to run integration tests")
	}

	dbName, err := databaseNameFromDSN(testDSN)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	if !strings.Contains(strings.ToLower(dbName), "test") {
		t.Fatalf("refusing to run integration tests against non-test database name %q", dbName)
	}

	ctx := context.Background()
	db, err := internaldb.Open(ctx, testDSN)
	if err != nil {
		if strings.Contains(err.Error(), "SQLSTATE 3D000") {
			if createErr := ensureDatabaseExists(ctx, testDSN, dbName); createErr != nil {
				t.Fatalf("create test db %s: %v", dbName, createErr)
			}
			db, err = internaldb.Open(ctx, testDSN)
		}
		if err != nil {
			t.Fatalf("open test db: %v", err)
		}
	}

	if err := resetDatabase(ctx, db); err != nil {
		t.Fatalf("reset test db: %v", err)
	}

	src, err := migrate.Source(internaldb.Dialect(testDSN), "")
	if err != nil {
		t.Fatalf("locate migrations: %v", err)
	}
	if err := migrate.Run(ctx, db, src); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	keyHash, err := auth.HashAPIKey(integrationAPIKey)
	if err != nil {
		t.Fatalf("hash api key: %v", err)
	}
	cfg := config.Config{
		HTTPAddr:       ":0",
		DatabaseURL:    testDSN,
		APIKeyHash:     keyHash,
		MaxUploadBytes: 5 << 20,
		MaxImportRows:  1000,
		SessionTTL:     10 * time.Minute,
	}

	application, err := app.New(cfg, db, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	httpSrv := httptest.NewServer(application.Handler())
	env := &testEnv{
		t:       t,
		db:      db,
		app:     application,
		httpSrv: httpSrv,
		baseURL: httpSrv.URL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}

	t.Cleanup(func() {
		httpSrv.Close()
		_ = application.Close()
	})
	return env
}

func resetDatabase(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func databaseNameFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("missing database name in dsn")
	}
	return name, nil
}

func ensureDatabaseExists(ctx context.Context, testDSN, dbName string) error {
	adminDSN, err := withDatabaseName(testDSN, "postgres")
	if err != nil {
		return err
	}

	adminDB, err := internaldb.Open(ctx, adminDSN)
	if err != nil {
		return err
	}
	defer adminDB.Close()

	_, err = adminDB.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(dbName)))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return err
	}
	return nil
}

func withDatabaseName(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func quoteIdent(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func (e *testEnv) doJSON(method, path string, body any) (int, http.Header, []byte, any) {
	e.t.Helper()
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.baseURL+path, bodyReader)
	if err != nil {
		e.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req)
}

// upload posts a workbook as the "file" part of a multipart form.
func (e *testEnv) upload(fileName string, rows [][]any) (int, any) {
	e.t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			e.t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			e.t.Fatalf("write row %d: %v", i, err)
		}
	}
	data, err := f.WriteToBuffer()
	if err != nil {
		e.t.Fatalf("write workbook: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	part, err := mw.CreatePart(h)
	if err != nil {
		e.t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(data.Bytes()); err != nil {
		e.t.Fatalf("write multipart part: %v", err)
	}
	if err := mw.Close(); err != nil {
		e.t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.baseURL+"/v1/imports", &body)
	if err != nil {
		e.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, _, _, decoded := e.send(req)
	return status, decoded
}

func (e *testEnv) send(req *http.Request) (int, http.Header, []byte, any) {
	e.t.Helper()
	req.Header.Set("Authorization", "Bearer "+integrationAPIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("http request failed (%s %s): %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("read response body: %v", err)
	}

	var decoded any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	}

	return resp.StatusCode, resp.Header.Clone(), raw, decoded
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map response, got %T (%v)", v, v)
	}
	return m
}

func asSlice(t *testing.T, v any) []any {
	t.Helper()
	s, ok := v.([]any)
	if !ok {
		t.Fatalf("expected slice response, got %T (%v)", v, v)
	}
	return s
}

func getString(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	s, ok := m[key].(string)
	if !ok {
		t.Fatalf("expected string field %q in %v", key, m)
	}
	return s
}
