package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/consolidate"
)

var (
	exportOut        string
	exportTransposed bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the master dataset to an XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", exportOut)
		}
		defer f.Close()

		master := consolidate.New(st)
		if err := master.Export(ctx, f, consolidate.ExportOptions{
			SheetName:  cfg.Export.SheetName,
			Transposed: exportTransposed,
		}); err != nil {
			return err
		}

		zap.L().Info("master dataset exported",
			zap.String("path", exportOut),
			zap.Bool("transposed", exportTransposed),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "master.xlsx", "output file path")
	exportCmd.Flags().BoolVar(&exportTransposed, "transposed", false, "one column per document instead of per field")
	rootCmd.AddCommand(exportCmd)
}
