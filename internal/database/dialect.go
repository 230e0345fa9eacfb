package database

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect covers the few places where SQLite and PostgreSQL disagree.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect interface {
	// Name is the goose dialect name.
	Name() string
	// Rebind converts ? placeholders to the dialect's syntax.
	Rebind(query string) string
	// ForUpdate is appended to a SELECT that is followed by an UPDATE of
	// the same row inside a transaction.
	ForUpdate() string
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation(err error) bool
}

type SQLite struct{}

func (SQLite) Name() string               { return "sqlite3" }
func (SQLite) Rebind(query string) string { return query }
func (SQLite) ForUpdate() string          { return "" }

func (SQLite) IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type Postgres struct{}

func (Postgres) Name() string               { return "postgres" }
func (Postgres) Rebind(query string) string { return rewritePlaceholdersToNumbered(query) }
func (Postgres) ForUpdate() string          { return " FOR UPDATE" }

func (Postgres) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// placeholderRegexp matches ? placeholders
var placeholderRegexp = regexp.MustCompile(`\?`)

// rewritePlaceholdersToNumbered converts ? placeholders to $1, $2, etc.
func rewritePlaceholdersToNumbered(query string) string {
	counter := 0
	return placeholderRegexp.ReplaceAllStringFunc(query, func(string) string {
		counter++
		return "$" + strconv.Itoa(counter)
	})
}
