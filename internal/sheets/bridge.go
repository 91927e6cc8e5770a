// Package sheets talks to the spreadsheet that mirrors remote fuel records.
// The mirror is best-effort and never the source of truth.
package sheets

import (
	"context"
	"errors"
	"fmt"
)

// Action is the operation requested from the spreadsheet bridge.
type Action string

const (
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionGetData       Action = "getData"
	ActionGetSheetNames Action = "getSheetNames"
)

var (
	ErrBridge        = errors.New("spreadsheet bridge error")
	ErrInvalidAction = errors.New("invalid spreadsheet action")
	ErrSheetNotFound = errors.New("sheet not found")
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Request is the payload sent to the bridge.
// RowIndex is the zero-based data row (the header row is not counted).
type Request struct {
	Action    Action                 `json:"action"`
	SheetName string                 `json:"sheetName,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RowIndex  *int                   `json:"rowIndex,omitempty"`
}

// Response is what the bridge answers.
type Response struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
	Sheets  []string   `json:"sheets,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Bridge executes spreadsheet requests.
type Bridge interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Validate checks the fields each action needs.
func (r Request) Validate() error {
	switch r.Action {
	case ActionGetSheetNames:
		return nil
	case ActionGetData:
	case ActionCreate:
		if len(r.Data) == 0 {
			return fmt.Errorf("%w: create needs data", ErrInvalidAction)
		}
	case ActionUpdate:
		if len(r.Data) == 0 || r.RowIndex == nil {
			return fmt.Errorf("%w: update needs data and rowIndex", ErrInvalidAction)
		}
	case ActionDelete:
		if r.RowIndex == nil {
			return fmt.Errorf("%w: delete needs rowIndex", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, r.Action)
	}
	if r.SheetName == "" {
		return fmt.Errorf("%w: %s needs sheetName", ErrInvalidAction, r.Action)
	}
	if r.RowIndex != nil && *r.RowIndex < 0 {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, *r.RowIndex)
	}
	return nil
}

// Row returns a data row as a header-keyed map.
func (r *Response) Row(i int) map[string]string {
	if i < 0 || i >= len(r.Rows) {
		return nil
	}
	out := make(map[string]string, len(r.Headers))
	for col, h := range r.Headers {
		if col < len(r.Rows[i]) {
			out[h] = r.Rows[i][col]
		} else {
			out[h] = ""
		}
	}
	return out
}
