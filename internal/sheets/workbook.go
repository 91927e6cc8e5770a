package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/xuri/excelize/v2"
)

// WorkbookBridge mirrors into a local .xlsx file. Row 1 of each sheet holds the
// headers; unseen data keys are appended as new header columns.
type WorkbookBridge struct {
	Path string
	mu   sync.Mutex
}

// NewWorkbookBridge returns a bridge writing to path.
func NewWorkbookBridge(path string) *WorkbookBridge {
	return &WorkbookBridge{Path: path}
}

// Call executes req against the workbook file.
func (b *WorkbookBridge) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if req.Action == ActionGetSheetNames {
		return &Response{Sheets: f.GetSheetList()}, nil
	}

	idx, err := f.GetSheetIndex(req.SheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridge, err)
	}
	if idx == -1 {
		if req.Action != ActionCreate {
			return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, req.SheetName)
		}
		if _, err := f.NewSheet(req.SheetName); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBridge, err)
		}
	}

	rows, err := f.GetRows(req.SheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridge, err)
	}
	var headers []string
	if len(rows) > 0 {
		headers = rows[0]
	}

	switch req.Action {
	case ActionGetData:
		resp := &Response{Headers: headers}
		if len(rows) > 1 {
			resp.Rows = rows[1:]
		}
		return resp, nil

	case ActionCreate:
		headers, err = b.ensureHeaders(f, req.SheetName, headers, req.Data)
		if err != nil {
			return nil, err
		}
		row := len(rows) + 1
		if row < 2 {
			row = 2
		}
		if err := writeCells(f, req.SheetName, headers, row, req.Data); err != nil {
			return nil, err
		}

	case ActionUpdate:
		row := *req.RowIndex + 2
		if row > len(rows) {
			return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, *req.RowIndex)
		}
		headers, err = b.ensureHeaders(f, req.SheetName, headers, req.Data)
		if err != nil {
			return nil, err
		}
		if err := writeCells(f, req.SheetName, headers, row, req.Data); err != nil {
			return nil, err
		}

	case ActionDelete:
		row := *req.RowIndex + 2
		if row > len(rows) {
			return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, *req.RowIndex)
		}
		if err := f.RemoveRow(req.SheetName, row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBridge, err)
		}
	}

	if err := f.SaveAs(b.Path); err != nil {
		return nil, fmt.Errorf("%w: failed to save workbook: %v", ErrBridge, err)
	}
	return &Response{Headers: headers}, nil
}

func (b *WorkbookBridge) open() (*excelize.File, error) {
	if _, err := os.Stat(b.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return excelize.NewFile(), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBridge, err)
	}
	f, err := excelize.OpenFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook: %v", ErrBridge, err)
	}
	return f, nil
}

// ensureHeaders appends data keys missing from the header row, in sorted order.
func (b *WorkbookBridge) ensureHeaders(f *excelize.File, sheet string, headers []string, data map[string]interface{}) ([]string, error) {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	var missing []string
	for k := range data {
		if !known[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return headers, nil
	}
	sort.Strings(missing)
	headers = append(headers, missing...)
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridge, err)
	}
	return headers, nil
}

func writeCells(f *excelize.File, sheet string, headers []string, row int, data map[string]interface{}) error {
	for col, h := range headers {
		v, ok := data[h]
		if !ok {
			continue
		}
		if v == nil {
			v = ""
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBridge, err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBridge, err)
		}
	}
	return nil
}
