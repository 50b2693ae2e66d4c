package index

import (
	"context"
	"database/sql"
	"net/url"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	containsQuery = "SELECT 1 FROM addresses WHERE address = ? LIMIT 1"
	countQuery    = "SELECT COUNT(*) FROM addresses"
	listQuery     = "SELECT address FROM addresses"
)

// SQLiteOpener opens read-only handles on a SQLite database holding a single
// `addresses` table with a unique textual `address` column.
type SQLiteOpener struct {
	Path string
}

// NewSQLiteOpener returns an opener for the database at path
func NewSQLiteOpener(path string) *SQLiteOpener {
	return &SQLiteOpener{Path: path}
}

// Describe returns the database path
func (o *SQLiteOpener) Describe() string {
	return "sqlite:" + o.Path
}

// Open connects to the database in read-only mode and prepares the lookup
func (o *SQLiteOpener) Open(ctx context.Context) (Index, error) {
	if _, err := os.Stat(o.Path); err != nil {
		return nil, errors.Wrapf(ErrIndexUnavailable, "%v", err)
	}

	db, err := sqlx.Open("sqlite3", readOnlyDSN(o.Path))
	if err != nil {
		return nil, errors.Wrapf(ErrIndexUnavailable, "open %s: %v", o.Path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(ErrIndexUnavailable, "ping %s: %v", o.Path, err)
	}

	stmt, err := db.PreparexContext(ctx, containsQuery)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(ErrIndexUnavailable, "prepare lookup on %s: %v", o.Path, err)
	}

	return &sqliteIndex{db: db, stmt: stmt}, nil
}

// readOnlyDSN builds a SQLite URI with the path escaped, so '?', '#' and '%'
// in file names are not read as URI syntax
func readOnlyDSN(path string) string {
	u := url.URL{Path: path}
	return "file:" + u.EscapedPath() + "?mode=ro"
}

type sqliteIndex struct {
	db   *sqlx.DB
	stmt *sqlx.Stmt
}

func (s *sqliteIndex) Contains(address string) (bool, error) {
	var one int
	err := s.stmt.Get(&one, address)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(ErrIndexUnavailable, "lookup: %v", err)
	}
	return true, nil
}

func (s *sqliteIndex) Count() (uint, error) {
	var n uint
	if err := s.db.Get(&n, countQuery); err != nil {
		return 0, errors.Wrap(err, "count addresses")
	}
	return n, nil
}

func (s *sqliteIndex) Each(fn func(address string) error) error {
	rows, err := s.db.Queryx(listQuery)
	if err != nil {
		return errors.Wrap(err, "list addresses")
	}
	defer rows.Close()

	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return errors.Wrap(err, "scan address")
		}
		if err := fn(address); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqliteIndex) Close() error {
	s.stmt.Close()
	return s.db.Close()
}
