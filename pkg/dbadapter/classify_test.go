package dbadapter

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/smartbi/analyst/pkg/enginerr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want enginerr.Kind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, enginerr.KindTimeout},
		{"cancelled", context.Canceled, enginerr.KindCancelled},
		{
			"postgres statement error",
			&pgconn.PgError{Code: "42703", Message: `column "ordered_on" does not exist`},
			enginerr.KindSQLError,
		},
		{
			"postgres connection failure",
			&pgconn.PgError{Code: "08006", Message: "connection failure"},
			enginerr.KindDBTransient,
		},
		{
			"mysql statement error",
			&mysql.MySQLError{Number: 1054, Message: "Unknown column 'ordered_on' in 'field list'"},
			enginerr.KindSQLError,
		},
		{"connection refused", syscall.ECONNREFUSED, enginerr.KindDBTransient},
		{"text connection reset", errors.New("read tcp: connection reset by peer"), enginerr.KindDBTransient},
		{"duckdb binder error", errors.New(`Binder Error: Referenced column "ordered_on" not found`), enginerr.KindSQLError},
		{"sqlite missing table", errors.New("SQL logic error: no such table: orders (1)"), enginerr.KindSQLError},
		{"unknown", errors.New("segfault in driver"), enginerr.KindDBPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enginerr.KindOf(Classify(tt.err)))
		})
	}
}

func TestClassifyPreservesEngineMessage(t *testing.T) {
	err := Classify(&pgconn.PgError{Code: "42703", Message: `column "ordered_on" does not exist`})
	assert.Contains(t, err.Error(), "ordered_on")

	e := enginerr.AsError(err)
	assert.Equal(t, "42703", e.Details["sqlstate"])
}

func TestClassifyRetryability(t *testing.T) {
	assert.True(t, enginerr.IsRetryable(Classify(syscall.ECONNRESET)))
	assert.False(t, enginerr.IsRetryable(Classify(&pgconn.PgError{Code: "42601", Message: "syntax error"})))
}
