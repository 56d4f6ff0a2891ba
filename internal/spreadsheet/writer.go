package spreadsheet

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kubev2v/vmtag-sync/internal/export"
	"github.com/kubev2v/vmtag-sync/internal/hierarchy"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	TagsSheet   = "Tags"
	ValuesSheet = "Values"

	// inline drop lists are stored as one quoted formula limited to 255 characters
	maxInlineList = 255
	fixedColumns  = 3
)

// WriteExport writes the table as the Tags sheet: entity name, datacenter,
// cluster, then one column per category with a drop list of its known values.
func WriteExport(w io.Writer, table export.Table, values export.ColumnValues, locations map[string]hierarchy.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), TagsSheet); err != nil {
		return err
	}

	header := []any{DefaultEntityColumn, DatacenterColumn, ClusterColumn}
	for _, c := range table.Columns {
		header = append(header, c)
	}
	if err := f.SetSheetRow(TagsSheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range table.Rows {
		loc := locations[row.Entity]
		line := []any{row.Entity, loc.Datacenter, loc.Cluster}
		for _, v := range row.Cells {
			line = append(line, v)
		}
		ref, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(TagsSheet, ref, &line); err != nil {
			return err
		}
	}

	if err := styleHeader(f, len(header)); err != nil {
		return err
	}
	if err := addDropLists(f, table, values); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	zap.S().Named("spreadsheet").Infow("export written", "rows", len(table.Rows), "categories", len(table.Columns))
	return nil
}

func styleHeader(f *excelize.File, columns int) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(TagsSheet, "A1", last, bold); err != nil {
		return err
	}
	return f.SetPanes(TagsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func addDropLists(f *excelize.File, table export.Table, values export.ColumnValues) error {
	if len(table.Rows) == 0 {
		return nil
	}

	valuesSheet := false
	for i, category := range table.Columns {
		choices := values[category]
		if len(choices) == 0 {
			continue
		}

		col, err := excelize.ColumnNumberToName(fixedColumns + i + 1)
		if err != nil {
			return err
		}
		dv := excelize.NewDataValidation(true)
		dv.Sqref = fmt.Sprintf("%s2:%s%d", col, col, len(table.Rows)+1)

		if inline(choices) {
			if err := dv.SetDropList(choices); err != nil {
				return err
			}
		} else {
			if !valuesSheet {
				if _, err := f.NewSheet(ValuesSheet); err != nil {
					return err
				}
				if err := f.SetSheetVisible(ValuesSheet, false); err != nil {
					return err
				}
				valuesSheet = true
			}
			if err := writeChoices(f, col, choices); err != nil {
				return err
			}
			dv.SetSqrefDropList(fmt.Sprintf("%s!$%s$1:$%s$%d", ValuesSheet, col, col, len(choices)))
		}

		if err := f.AddDataValidation(TagsSheet, dv); err != nil {
			return err
		}
	}
	return nil
}

// writeChoices stores the choices of a category in the hidden sheet, in the
// same column the category uses on the Tags sheet.
func writeChoices(f *excelize.File, col string, choices []string) error {
	for i, v := range choices {
		if err := f.SetCellStr(ValuesSheet, fmt.Sprintf("%s%d", col, i+1), v); err != nil {
			return err
		}
	}
	return nil
}

// inline reports whether choices fit in an inline list formula, which has no
// escape for commas or quotes.
func inline(choices []string) bool {
	for _, v := range choices {
		if strings.ContainsAny(v, `,"`) {
			return false
		}
	}
	return utf8.RuneCountInString(strings.Join(choices, ","))+2 <= maxInlineList
}
