package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mjhen/medstock/server/internal/catalog"
	"github.com/mjhen/medstock/server/internal/importer"
	"github.com/mjhen/medstock/server/internal/sheet"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show detected columns, types and the proposed mapping",
		Long: `Parse the first sheet of a workbook and print, per column, the detected
type, sample values, combined LOT/SKT/SERI/UBB data and the mapping the
importer would propose against the built-in fields. No database is needed.`,
		Example: `  stokctl inspect stok.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := loadSpreadsheet(cmd, args[0])
			if err != nil {
				return err
			}
			mappings := importer.AutoMap(sp.Columns, catalog.DefaultFields)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sheet %q: %d columns, %d data rows\n", sp.SheetName, len(sp.Columns), len(sp.Rows))
			renderColumns(out, sp.Columns, mappings)
			return nil
		},
	}
}

func renderColumns(w io.Writer, columns []sheet.Column, mappings []importer.ColumnMapping) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Column", "Type", "Samples", "Combined", "Target", "Sub-mappings"})
	for i, col := range columns {
		m := mappings[i]
		t.AppendRow(table.Row{
			i,
			col.Name,
			string(col.DataType),
			strings.Join(col.Samples, " | "),
			combinedSummary(col),
			targetLabel(m.Target),
			subMappingSummary(m),
		})
	}
	t.Render()
}

func combinedSummary(col sheet.Column) string {
	if !col.HasCombinedData {
		return ""
	}
	var parts []string
	for _, f := range sheet.SubFields {
		var values []string
		for _, e := range col.ExtractedSamples {
			if v := e.Get(f); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			parts = append(parts, strings.ToUpper(string(f))+"="+strings.Join(values, ","))
		}
	}
	return strings.Join(parts, " ")
}

func subMappingSummary(m importer.ColumnMapping) string {
	if m.SubMappings == nil {
		return ""
	}
	var parts []string
	for _, f := range sheet.SubFields {
		if t := m.SubMappings.Get(f); t.IsSet() {
			parts = append(parts, string(f)+"→"+targetLabel(t))
		}
	}
	return strings.Join(parts, " ")
}

func targetLabel(t importer.Target) string {
	if !t.IsSet() {
		return "-"
	}
	return t.String()
}

func loadSpreadsheet(cmd *cobra.Command, path string) (*sheet.Spreadsheet, error) {
	size, err := statFile(path)
	if err != nil {
		return nil, err
	}
	if err := sheet.ValidateFile(path, "", size); err != nil {
		return nil, err
	}
	return sheet.ParseFile(cmd.Context(), path)
}
