// Package cmdcache persists the most recently submitted command strings per
// (organization, region) so history search and readline-style recall
// survive page reloads. The cache is a capped ring buffer: inserting past
// the cap evicts the oldest entries in the same transaction.
package cmdcache

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// schemaVersion is stored alongside the data so a future format change can
// migrate instead of guessing.
const schemaVersion = 1

// DefaultCap is the number of commands retained per scope.
const DefaultCap = 50

// DB wraps the SQLite connection backing the command cache.
type DB struct {
	conn *sql.DB
	cap  int
}

// NewDB opens/creates the cache database at the given path and initializes
// the schema. Pass ":memory:" for an in-memory database (useful for tests).
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache database")
	}

	// WAL keeps readers unblocked while the recorder writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enabling WAL mode")
	}

	db := &DB{conn: conn, cap: DefaultCap}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "initializing cache schema")
	}
	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		organization TEXT NOT NULL,
		region TEXT NOT NULL,
		cmd_text TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commands_scope ON commands(organization, region, id DESC);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	var version int
	err := db.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.conn.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case version != schemaVersion:
		return errors.Newf("cache schema version %d, expected %d", version, schemaVersion)
	default:
		return nil
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// InsertCommand stores a command and evicts entries beyond the cap for its
// scope, atomically.
func (db *DB) InsertCommand(ctx context.Context, cmd *Command) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning cache insert")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO commands (ts, organization, region, cmd_text) VALUES (?, ?, ?, ?)`,
		cmd.SubmittedAt.Unix(), cmd.Organization, cmd.Region, cmd.CommandText,
	)
	if err != nil {
		return errors.Wrap(err, "inserting command")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "reading insert id")
	}
	cmd.ID = id

	_, err = tx.ExecContext(ctx, `
		DELETE FROM commands
		WHERE organization = ? AND region = ? AND id NOT IN (
			SELECT id FROM commands
			WHERE organization = ? AND region = ?
			ORDER BY id DESC
			LIMIT ?
		)`,
		cmd.Organization, cmd.Region, cmd.Organization, cmd.Region, db.cap,
	)
	if err != nil {
		return errors.Wrap(err, "trimming cache")
	}

	return errors.Wrap(tx.Commit(), "committing cache insert")
}

// RecentCommands returns up to limit of the newest commands in the scope,
// newest first.
func (db *DB) RecentCommands(ctx context.Context, scope Scope, limit int) ([]*Command, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, ts, organization, region, cmd_text
		FROM commands
		WHERE organization = ? AND region = ?
		ORDER BY id DESC
		LIMIT ?`,
		scope.Organization, scope.Region, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying recent commands")
	}
	defer rows.Close()

	return db.scanCommands(rows)
}

// SearchCommands returns commands in the scope whose text starts with
// prefix, newest first.
func (db *DB) SearchCommands(ctx context.Context, scope Scope, prefix string, limit int) ([]*Command, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, ts, organization, region, cmd_text
		FROM commands
		WHERE organization = ? AND region = ? AND cmd_text LIKE ?
		ORDER BY id DESC
		LIMIT ?`,
		scope.Organization, scope.Region, prefix+"%", limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "searching commands")
	}
	defer rows.Close()

	return db.scanCommands(rows)
}

func (db *DB) scanCommands(rows *sql.Rows) ([]*Command, error) {
	var commands []*Command
	for rows.Next() {
		var cmd Command
		var tsUnix int64
		if err := rows.Scan(&cmd.ID, &tsUnix, &cmd.Organization, &cmd.Region, &cmd.CommandText); err != nil {
			return nil, errors.Wrap(err, "scanning command row")
		}
		cmd.SubmittedAt = time.Unix(tsUnix, 0)
		commands = append(commands, &cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating command rows")
	}
	return commands, nil
}
