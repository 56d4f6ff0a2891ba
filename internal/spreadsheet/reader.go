// Package spreadsheet reads desired tag state from, and writes exports to,
// xlsx workbooks.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kubev2v/vmtag-sync/internal/syncer"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	DefaultEntityColumn = "Name"
	DatacenterColumn    = "Datacenter"
	ClusterColumn       = "Cluster"
)

var (
	ErrSheetNotFound        = errors.New("sheet not found")
	ErrEntityColumnNotFound = errors.New("entity column not found")
)

type ReadOptions struct {
	// Sheet to read, the first sheet of the workbook when empty.
	Sheet string
	// EntityColumn is the header naming the entity, DefaultEntityColumn when empty.
	EntityColumn string
}

// ReadDesired returns one row per data line of the sheet, in sheet order.
// Every header other than the entity and location columns names a category.
// Empty cells are left out of the row so they never reach the diff.
func ReadDesired(r io.Reader, opts ReadOptions) ([]syncer.DesiredRow, error) {
	log := zap.S().Named("spreadsheet")

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("error opening Excel file: %w", err)
	}
	defer f.Close()

	sheet, err := pickSheet(f, opts.Sheet)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header: %w", sheet, ErrEntityColumnNotFound)
	}

	entityColumn := opts.EntityColumn
	if entityColumn == "" {
		entityColumn = DefaultEntityColumn
	}

	entityIdx := -1
	categories := make(map[int]string)
	seen := make(map[string]bool)
	for i, header := range rows[0] {
		name := strings.TrimSpace(header)
		switch {
		case name == "":
			continue
		case strings.EqualFold(name, entityColumn):
			if entityIdx < 0 {
				entityIdx = i
			}
			continue
		case strings.EqualFold(name, DatacenterColumn), strings.EqualFold(name, ClusterColumn):
			continue
		case seen[name]:
			log.Warnw("duplicate category column ignored", "sheet", sheet, "category", name)
			continue
		}
		seen[name] = true
		categories[i] = name
	}
	if entityIdx < 0 {
		return nil, fmt.Errorf("column %q in sheet %q: %w", entityColumn, sheet, ErrEntityColumnNotFound)
	}

	var desired []syncer.DesiredRow
	for line, row := range rows[1:] {
		entity := cell(row, entityIdx)
		if entity == "" {
			if len(strings.Join(row, "")) > 0 {
				log.Debugw("row without entity skipped", "sheet", sheet, "row", line+2)
			}
			continue
		}

		values := make(map[string]string)
		for idx, category := range categories {
			if v := cell(row, idx); v != "" {
				values[category] = v
			}
		}
		desired = append(desired, syncer.DesiredRow{Entity: entity, Values: values})
	}

	log.Infow("desired state read", "sheet", sheet, "rows", len(desired), "categories", len(categories))
	return desired, nil
}

func pickSheet(f *excelize.File, name string) (string, error) {
	sheets := f.GetSheetList()
	if name == "" {
		if len(sheets) == 0 {
			return "", ErrSheetNotFound
		}
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%q: %w", name, ErrSheetNotFound)
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}
