package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/history"
	"github.com/mjhen/medstock/server/internal/importer"
)

func newImportCmd() *cobra.Command {
	var (
		overrides []string
		mode      string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a product spreadsheet into the catalog",
		Long: `Parse a workbook, propose a column mapping against the current fields,
apply any --map overrides and write one product per data row.

A --map value is HEADER=TARGET where TARGET is a field id, a field name,
IGNORE, or NEW (create a field named after the header).`,
		Example: `  stokctl import stok.xlsx
  stokctl import stok.xlsx --map "Renk=NEW" --map "Not=IGNORE"
  stokctl import guncelleme.xlsx --mode update --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedMode, err := importer.ParseMode(mode)
			if err != nil {
				return err
			}
			sp, err := loadSpreadsheet(cmd, args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			store := catalog.NewService(e.db)
			fields, err := store.ListFields(ctx, false)
			if err != nil {
				return err
			}
			session, err := importer.NewSession(filepath.Base(args[0]), sp, fields, e.cfg.MaxImportRows)
			if err != nil {
				return err
			}
			events, err := overrideEvents(session, fields, overrides)
			if err != nil {
				return err
			}
			if err := session.Apply(events...); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderColumns(out, session.Columns, session.Mappings)

			plan := session.Plan(parsedMode)
			if err := importer.Validate(plan); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(out, "Dry run: %d rows would be imported in %s mode.\n", session.RowCount, parsedMode)
				return nil
			}

			report, err := importer.NewExecutor(store, e.logger).Execute(ctx, plan, nil)
			if report != nil {
				renderReport(out, report)
			}
			if err != nil {
				return err
			}

			_, err = history.NewRecorder(e.db).RecordImport(ctx, history.ImportSummary{
				FileName:      session.FileName,
				Mode:          string(report.Mode),
				SuccessCount:  report.SuccessCount,
				ErrorCount:    report.ErrorCount,
				NotFoundCount: report.NotFoundCount,
				SkippedCount:  report.SkippedCount,
			}, map[string]any{"createdFields": report.CreatedFields, "source": "stokctl"})
			if err != nil && !errors.Is(err, history.ErrNothingImported) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "map", nil, "override a column mapping, HEADER=TARGET (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "create", "create new products or update existing ones by product code")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the mapping and validate it without writing")
	return cmd
}

// overrideEvents turns --map values into mapping events. Headers match
// exactly; targets resolve as literals, field ids, then field names.
func overrideEvents(s *importer.Session, fields []catalog.FieldDescriptor, overrides []string) ([]importer.Event, error) {
	var events []importer.Event
	for _, raw := range overrides {
		header, target, ok := strings.Cut(raw, "=")
		header, target = strings.TrimSpace(header), strings.TrimSpace(target)
		if !ok || header == "" {
			return nil, fmt.Errorf("--map %q: want HEADER=TARGET", raw)
		}
		column := -1
		for i, c := range s.Columns {
			if c.Name == header {
				column = i
				break
			}
		}
		if column < 0 {
			return nil, fmt.Errorf("--map %q: no column named %q", raw, header)
		}
		t, err := resolveTarget(target, fields)
		if err != nil {
			return nil, fmt.Errorf("--map %q: %w", raw, err)
		}
		events = append(events, importer.Event{Type: importer.EventSetTarget, Column: column, Target: t})
	}
	return events, nil
}

func resolveTarget(raw string, fields []catalog.FieldDescriptor) (importer.Target, error) {
	t := importer.ParseTarget(raw)
	if t.Kind != importer.TargetField {
		return t, nil
	}
	key := catalog.NameKey(raw)
	for _, f := range fields {
		if f.ID == raw {
			return t, nil
		}
	}
	for _, f := range fields {
		if catalog.NameKey(f.Name) == key {
			return importer.Field(f.ID), nil
		}
	}
	return importer.Target{}, fmt.Errorf("unknown field %q", raw)
}

func renderReport(w io.Writer, report *importer.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Mode", "Imported", "Errors", "Not found", "Skipped", "New fields"})
	t.AppendRow(table.Row{report.Mode, report.SuccessCount, report.ErrorCount, report.NotFoundCount, report.SkippedCount, len(report.CreatedFields)})
	t.Render()

	if len(report.FieldErrors) > 0 {
		fe := table.NewWriter()
		fe.SetOutputMirror(w)
		fe.SetStyle(table.StyleLight)
		fe.AppendHeader(table.Row{"Column", "New field", "Error"})
		for _, e := range report.FieldErrors {
			fe.AppendRow(table.Row{e.Column, e.Name, e.Error})
		}
		fe.Render()
	}

	var failed []importer.RowResult
	for _, r := range report.Rows {
		if r.Status == importer.RowFailed || r.Status == importer.RowNotFound {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		rt := table.NewWriter()
		rt.SetOutputMirror(w)
		rt.SetStyle(table.StyleLight)
		rt.AppendHeader(table.Row{"Row", "Status", "Error"})
		for _, r := range failed {
			rt.AppendRow(table.Row{r.Row, r.Status, r.Error})
		}
		rt.Render()
	}
}

func statFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("open spreadsheet: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("open spreadsheet: %s is a directory", path)
	}
	return info.Size(), nil
}
