package dbadapter

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smartbi/analyst/pkg/enginerr"
)

// Classify maps a driver error onto the engine taxonomy:
//
//   - ctx deadline → TIMEOUT, ctx cancel → CANCELLED
//   - engine-reported statement errors → SQL_ERROR carrying the raw message
//     (the correction loop feeds it back to the SQL agent)
//   - network-shaped failures → DB_TRANSIENT (retryable)
//   - everything else → DB_PERMANENT
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return enginerr.Wrap(enginerr.KindTimeout, err, "query deadline exceeded")
	case errors.Is(err, context.Canceled):
		return enginerr.Wrap(enginerr.KindCancelled, err, "query cancelled")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection-level; everything else the server reports
		// is a statement error the correction loop can act on.
		if strings.HasPrefix(pgErr.Code, "08") {
			return enginerr.Wrap(enginerr.KindDBTransient, err, "postgres connection failure")
		}
		return enginerr.Wrap(enginerr.KindSQLError, err, "%s", pgErr.Message).
			WithDetail("sqlstate", pgErr.Code)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return enginerr.Wrap(enginerr.KindSQLError, err, "%s", myErr.Message).
			WithDetail("mysql_errno", myErr.Number)
	}

	if isTransient(err) {
		return enginerr.Wrap(enginerr.KindDBTransient, err, "transient database failure")
	}

	// database/sql drivers without typed errors report statement failures
	// as plain errors; recognizable SQL failure text still feeds correction.
	if looksLikeStatementError(err) {
		return enginerr.Wrap(enginerr.KindSQLError, err, "%s", err.Error())
	}

	return enginerr.Wrap(enginerr.KindDBPermanent, err, "database failure")
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, mysql.ErrInvalidConn):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"too many connections",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func looksLikeStatementError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"syntax error",
		"no such table",
		"no such column",
		"does not exist",
		"unknown column",
		"unknown table",
		"unknown identifier",
		"ambiguous",
		"parse error",
		"binder error",
		"catalog error",
		"division by zero",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
