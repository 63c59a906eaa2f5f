package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mjhen/medstock/server/internal/catalog"
)

func newFieldsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List product fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			fields, err := catalog.NewService(e.db).ListFields(cmd.Context(), all)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "Type", "Built-in", "Active", "Classified"})
			for _, f := range fields {
				t.AppendRow(table.Row{f.ID, f.Name, f.DataType, yesNo(f.IsDefault), yesNo(f.IsActive), yesNo(f.IsClassified)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive fields")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
