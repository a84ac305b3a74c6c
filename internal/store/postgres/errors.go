package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/orgsync/internal/store"
)

// unavailableCodes are server states in which retrying against another
// connection, or later, may succeed.
var unavailableCodes = map[string]string{
	pgerrcode.ConnectionException:                     "connection lost",
	pgerrcode.ConnectionDoesNotExist:                  "connection lost",
	pgerrcode.ConnectionFailure:                       "connection lost",
	pgerrcode.SQLClientUnableToEstablishSQLConnection: "connection refused",
	pgerrcode.CannotConnectNow:                        "server starting",
	pgerrcode.AdminShutdown:                           "server shutting down",
	pgerrcode.CrashShutdown:                           "server crashed",
	pgerrcode.TooManyConnections:                      "too many connections",
	pgerrcode.QueryCanceled:                           "query canceled",
	pgerrcode.SerializationFailure:                    "transaction conflict",
	pgerrcode.DeadlockDetected:                        "transaction conflict",
	pgerrcode.InsufficientResources:                   "insufficient resources",
	pgerrcode.DiskFull:                                "disk full",
	pgerrcode.OutOfMemory:                             "out of memory",
}

// mapPostgresError translates a PostgreSQL error into the node store
// sentinels. Errors that did not come from the server pass through untouched.
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}

	// nodes.parent references nodes.path
	if pgErr.Code == pgerrcode.ForeignKeyViolation {
		return fmt.Errorf("%w: %s", store.ErrNoParent, pgErr.Detail)
	}

	if pgErr.Code == pgerrcode.CheckViolation {
		return fmt.Errorf("%w: %s", store.ErrInvalidPath, pgErr.ConstraintName)
	}

	if reason, ok := unavailableCodes[pgErr.Code]; ok {
		return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, reason, err)
	}

	return fmt.Errorf("postgres error [%s]: %s: %w", pgErr.Code, pgErr.Message, err)
}
