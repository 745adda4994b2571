package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// isDuplicateKeyError reports whether err is a PostgreSQL unique_violation
// (23505), as raised by an ON CONFLICT-less INSERT racing an existing row.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
