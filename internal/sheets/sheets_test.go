package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"sheet names needs nothing", Request{Action: ActionGetSheetNames}, nil},
		{"get data", Request{Action: ActionGetData, SheetName: "Fuel"}, nil},
		{"create", Request{Action: ActionCreate, SheetName: "Fuel", Data: map[string]interface{}{"a": 1}}, nil},
		{"create without data", Request{Action: ActionCreate, SheetName: "Fuel"}, ErrInvalidAction},
		{"create without sheet", Request{Action: ActionCreate, Data: map[string]interface{}{"a": 1}}, ErrInvalidAction},
		{"update without row", Request{Action: ActionUpdate, SheetName: "Fuel", Data: map[string]interface{}{"a": 1}}, ErrInvalidAction},
		{"delete negative row", Request{Action: ActionDelete, SheetName: "Fuel", RowIndex: intPtr(-1)}, ErrRowOutOfRange},
		{"unknown action", Request{Action: "truncate", SheetName: "Fuel"}, ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPBridge_Call(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Response{Headers: []string{"vehicle_code"}})
	}))
	defer server.Close()

	bridge := NewHTTPBridge(server.URL, "secret", 5*time.Second)
	resp, err := bridge.Call(context.Background(), Request{
		Action:    ActionCreate,
		SheetName: "Fuel",
		Data:      map[string]interface{}{"vehicle_code": "CM-122", "fuel_quantity": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle_code"}, resp.Headers)
	assert.Equal(t, ActionCreate, got.Action)
	assert.Equal(t, "Fuel", got.SheetName)
	assert.Equal(t, 0.0, got.Data["fuel_quantity"])
}

func TestHTTPBridge_ErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Error: "quota exceeded"})
	}))
	defer server.Close()

	_, err := NewHTTPBridge(server.URL, "", time.Second).Call(context.Background(), Request{Action: ActionGetSheetNames})
	assert.ErrorIs(t, err, ErrBridge)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHTTPBridge_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPBridge(server.URL, "", time.Second).Call(context.Background(), Request{Action: ActionGetSheetNames})
	assert.ErrorIs(t, err, ErrBridge)
}

func TestHTTPBridge_InvalidRequestNotSent(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := NewHTTPBridge(server.URL, "", time.Second).Call(context.Background(), Request{Action: ActionCreate, SheetName: "Fuel"})
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.False(t, called)
}

func TestWorkbookBridge_Lifecycle(t *testing.T) {
	bridge := NewWorkbookBridge(filepath.Join(t.TempDir(), "mirror.xlsx"))
	ctx := context.Background()

	_, err := bridge.Call(ctx, Request{Action: ActionGetData, SheetName: "Fuel"})
	assert.ErrorIs(t, err, ErrSheetNotFound)

	_, err = bridge.Call(ctx, Request{Action: ActionCreate, SheetName: "Fuel", Data: map[string]interface{}{
		"vehicle_code": "CM-122", "fuel_quantity": 500.0,
	}})
	require.NoError(t, err)
	_, err = bridge.Call(ctx, Request{Action: ActionCreate, SheetName: "Fuel", Data: map[string]interface{}{
		"vehicle_code": "CM-200", "fuel_quantity": 0.0, "operator_name": "Carlos",
	}})
	require.NoError(t, err)

	data, err := bridge.Call(ctx, Request{Action: ActionGetData, SheetName: "Fuel"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fuel_quantity", "vehicle_code", "operator_name"}, data.Headers)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "CM-122", data.Row(0)["vehicle_code"])
	assert.Equal(t, "0", data.Row(1)["fuel_quantity"])
	assert.Equal(t, "Carlos", data.Row(1)["operator_name"])

	_, err = bridge.Call(ctx, Request{Action: ActionUpdate, SheetName: "Fuel", RowIndex: intPtr(0), Data: map[string]interface{}{
		"operator_name": "Ana",
	}})
	require.NoError(t, err)

	_, err = bridge.Call(ctx, Request{Action: ActionDelete, SheetName: "Fuel", RowIndex: intPtr(1)})
	require.NoError(t, err)

	data, err = bridge.Call(ctx, Request{Action: ActionGetData, SheetName: "Fuel"})
	require.NoError(t, err)
	require.Len(t, data.Rows, 1)
	assert.Equal(t, "Ana", data.Row(0)["operator_name"])
	assert.Equal(t, "CM-122", data.Row(0)["vehicle_code"])

	_, err = bridge.Call(ctx, Request{Action: ActionDelete, SheetName: "Fuel", RowIndex: intPtr(5)})
	assert.ErrorIs(t, err, ErrRowOutOfRange)

	names, err := bridge.Call(ctx, Request{Action: ActionGetSheetNames})
	require.NoError(t, err)
	assert.Contains(t, names.Sheets, "Fuel")
}

func TestResponse_RowOutOfRange(t *testing.T) {
	resp := &Response{Headers: []string{"a", "b"}, Rows: [][]string{{"1"}}}
	assert.Nil(t, resp.Row(3))
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, resp.Row(0))
}
