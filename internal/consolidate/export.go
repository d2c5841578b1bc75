package consolidate

import (
	"context"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docflow-cli/internal/model"
)

// ExportOptions configures the master export.
type ExportOptions struct {
	SheetName  string
	Transposed bool
}

// leadColumns are fixed before the field-path union in the flat layout.
var leadColumns = []string{"row", "filename", "status", "version"}

// Export writes the master table as a deterministic XLSX workbook: one row
// per master row ordered by row number, columns the union of flattened
// field paths in first-seen order. Transposed swaps the axes for
// side-by-side comparison.
func (e *Engine) Export(ctx context.Context, w io.Writer, opts ExportOptions) error {
	if opts.SheetName == "" {
		opts.SheetName = "Master"
	}

	rows, err := e.store.ListMasterRows(ctx, 0)
	if err != nil {
		return eris.Wrap(err, "consolidate: export list")
	}

	paths, flat := collectPaths(rows)

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(opts.SheetName)
	if err != nil {
		return eris.Wrap(err, "consolidate: export sheet")
	}

	if opts.Transposed {
		writeTransposed(sheet, rows, paths, flat)
	} else {
		writeFlat(sheet, rows, paths, flat)
	}

	if err := file.Write(w); err != nil {
		return eris.Wrap(err, "consolidate: export write")
	}
	return nil
}

// collectPaths computes the union of flattened field paths across rows in
// first-seen order, plus each row's path→rendered-value lookup.
func collectPaths(rows []model.MasterRow) ([]string, []map[string]string) {
	var paths []string
	seen := make(map[string]bool)
	flat := make([]map[string]string, len(rows))

	for i := range rows {
		cells := make(map[string]string)
		for _, ff := range rows[i].Row.Flatten() {
			if !seen[ff.Path] {
				seen[ff.Path] = true
				paths = append(paths, ff.Path)
			}
			cells[ff.Path] = ff.Value.Render()
		}
		flat[i] = cells
	}
	return paths, flat
}

func writeFlat(sheet *xlsx.Sheet, rows []model.MasterRow, paths []string, flat []map[string]string) {
	header := sheet.AddRow()
	for _, c := range leadColumns {
		header.AddCell().SetString(c)
	}
	for _, p := range paths {
		header.AddCell().SetString(p)
	}

	for i := range rows {
		r := sheet.AddRow()
		r.AddCell().SetString(strconv.Itoa(rows[i].RowNumber))
		r.AddCell().SetString(rows[i].Filename)
		r.AddCell().SetString(string(rows[i].StatusSnapshot))
		r.AddCell().SetString(strconv.Itoa(rows[i].Version))
		for _, p := range paths {
			r.AddCell().SetString(flat[i][p])
		}
	}
}

func writeTransposed(sheet *xlsx.Sheet, rows []model.MasterRow, paths []string, flat []map[string]string) {
	header := sheet.AddRow()
	header.AddCell().SetString("field")
	for i := range rows {
		header.AddCell().SetString(rows[i].Filename)
	}

	for _, p := range paths {
		r := sheet.AddRow()
		r.AddCell().SetString(p)
		for i := range rows {
			r.AddCell().SetString(flat[i][p])
		}
	}
}
