package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/opensource-finance/notas/internal/domain"
)

type signal int

const (
	signalNone signal = iota
	signalUnique
	signalForeignKey
	signalIntegrity
	signalUnavailable
)

// Oracle error codes recognized in error text.
var oracleSignals = []struct {
	code   string
	signal signal
}{
	{"ORA-00001", signalUnique},
	{"ORA-02291", signalForeignKey},
	{"ORA-02292", signalForeignKey},
	{"ORA-12514", signalUnavailable},
	{"ORA-12154", signalUnavailable},
	{"ORA-12541", signalUnavailable},
	{"ORA-03113", signalUnavailable},
	{"ORA-03114", signalUnavailable},
}

// Classify maps a raw driver error onto the domain taxonomy. Domain errors
// pass through, recognized unique, foreign key and availability failures
// become Duplicate, ForeignKeyConflict and ConnectionFailure, and anything
// else is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}

	sig, constraint := detect(err)
	var de *domain.Error
	switch sig {
	case signalUnique:
		de = domain.ErrDuplicateEntry("record already exists")
	case signalIntegrity:
		de = domain.ErrDuplicateEntry("integrity constraint violated")
	case signalForeignKey:
		de = domain.ErrForeignKey("record references a missing record or is still referenced")
	case signalUnavailable:
		de = domain.ErrConnection("database unavailable")
	default:
		return err
	}
	if constraint != "" {
		de = de.WithMeta("constraint", constraint)
	}
	return de.WithCause(err)
}

func detect(err error) (signal, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return sqlState(string(pqErr.Code)), pqErr.Constraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return sqlState(pgErr.Code), pgErr.ConstraintName
	}

	var pgConnErr *pgconn.ConnectError
	if errors.As(err, &pgConnErr) {
		return signalUnavailable, ""
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlNumber(myErr.Number), ""
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if sig := sqliteCode(liteErr.Code(), liteErr.Error()); sig != signalNone {
			return sig, ""
		}
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return signalUnavailable, ""
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return signalUnavailable, ""
	}

	return textSignal(err.Error()), ""
}

// sqlState classifies a PostgreSQL SQLSTATE.
func sqlState(code string) signal {
	switch {
	case code == "23505":
		return signalUnique
	case code == "23503":
		return signalForeignKey
	case strings.HasPrefix(code, "23"):
		return signalIntegrity
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P"):
		return signalUnavailable
	}
	return signalNone
}

func mysqlNumber(n uint16) signal {
	switch n {
	case 1062, 1586:
		return signalUnique
	case 1216, 1217, 1451, 1452:
		return signalForeignKey
	case 1048, 1364, 3819:
		return signalIntegrity
	case 1040, 1205, 2002, 2003, 2006, 2013:
		return signalUnavailable
	}
	return signalNone
}

func sqliteCode(code int, msg string) signal {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return signalUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return signalForeignKey
	}
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		if sig := textSignal(msg); sig != signalNone {
			return sig
		}
		return signalIntegrity
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return signalUnavailable
	}
	return signalNone
}

// textSignal recognizes drivers that only report failures as text.
func textSignal(msg string) signal {
	for _, o := range oracleSignals {
		if strings.Contains(msg, o.code) {
			return o.signal
		}
	}
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return signalUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return signalForeignKey
	}
	return signalNone
}
