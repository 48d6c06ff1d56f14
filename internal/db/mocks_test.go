package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"chesshelper/internal/types"
)

// mockDBTX is a testify mock for the DBTX interface, shared by all
// repository tests in this package.
type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// mockRow implements pgx.Row with either a fixed error or a scan callback.
type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// mockRows implements pgx.Rows over literal row values. Each row is a slice
// of values assigned positionally into the scan destinations.
type mockRows struct {
	rows    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(rows ...[]any) *mockRows {
	return &mockRows{rows: rows, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.rows[r.idx]
	for i, d := range dest {
		if err := assignScanDest(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// assignScanDest assigns a literal value into a scan destination pointer.
// A nil value into a double-pointer destination models SQL NULL.
func assignScanDest(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		d2 := val.(string)
		*d = d2
	case *int:
		*d = val.(int)
	case *int64:
		*d = int64(asInt(val))
	case *bool:
		*d = val.(bool)
	case *float64:
		*d = val.(float64)
	case *time.Time:
		*d = val.(time.Time)
	case *types.SuppressionReason:
		*d = types.SuppressionReason(val.(string))
	case *types.SuppressionSource:
		*d = types.SuppressionSource(val.(string))
	case *[]byte:
		if val == nil {
			*d = nil
		} else {
			*d = val.([]byte)
		}
	case **string:
		if val == nil {
			*d = nil
		} else {
			s := val.(string)
			*d = &s
		}
	case **time.Time:
		if val == nil {
			*d = nil
		} else {
			t := val.(time.Time)
			*d = &t
		}
	case **float64:
		if val == nil {
			*d = nil
		} else {
			f := val.(float64)
			*d = &f
		}
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

func asInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		panic(fmt.Sprintf("unsupported int value %T", val))
	}
}
