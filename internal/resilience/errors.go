package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryableSQLStates are Postgres error codes for serialization failures,
// deadlocks and server restarts.
var retryableSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// sqliteBusy matches the messages modernc sqlite returns while another
// connection holds the write lock.
var sqliteBusy = []string{
	"database is locked",
	"sqlite_busy",
	"database table is locked",
}

// IsTransient reports whether err is worth retrying against the store.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range sqliteBusy {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return strings.Contains(msg, "connection reset by peer") || strings.Contains(msg, "broken pipe")
}
