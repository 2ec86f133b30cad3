package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/letieu/reddit-trends/internal/record"
)

// DB mirrors the dataset into a posts table keyed by permalink.
type DB struct {
	conn *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		permalink   TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		upvotes     INTEGER NOT NULL,
		comments    INTEGER NOT NULL,
		author      TEXT NOT NULL,
		created_utc TEXT NOT NULL,
		scraped_at  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_scraped_at ON posts(scraped_at)`,
}

// driverFor picks libsql for remote URLs and the pure Go sqlite driver for
// local files.
func driverFor(dsn, token string) (driver, source string, err error) {
	for _, scheme := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, scheme) {
			if token == "" {
				return "libsql", dsn, nil
			}
			u, err := url.Parse(dsn)
			if err != nil {
				return "", "", fmt.Errorf("parse database url: %w", err)
			}
			q := u.Query()
			q.Set("authToken", token)
			u.RawQuery = q.Encode()
			return "libsql", u.String(), nil
		}
	}
	return "sqlite", dsn, nil
}

// Open connects to dsn: a libsql/Turso URL or a local sqlite path.
func Open(dsn, token string) (*DB, error) {
	driver, source, err := driverFor(dsn, token)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return &DB{conn: conn}, nil
}

// Migrate creates the posts table if needed.
func (db *DB) Migrate(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertRecords writes records in one transaction. An existing row is only
// replaced by a record scraped at the same time or later.
func (db *DB) UpsertRecords(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO posts (permalink, title, upvotes, comments, author, created_utc, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(permalink) DO UPDATE SET
			title = excluded.title,
			upvotes = excluded.upvotes,
			comments = excluded.comments,
			author = excluded.author,
			created_utc = excluded.created_utc,
			scraped_at = excluded.scraped_at
		WHERE excluded.scraped_at >= posts.scraped_at`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Permalink,
			r.Title,
			r.Upvotes,
			r.Comments,
			r.Author,
			r.CreatedUTC,
			r.ScrapedAt,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Permalink, err)
		}
	}

	return tx.Commit()
}

// Records returns every mirrored post, oldest scrape first.
func (db *DB) Records(ctx context.Context) ([]record.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT permalink, title, upvotes, comments, author, created_utc, scraped_at
		FROM posts
		ORDER BY scraped_at, permalink
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var r record.Record
		if err := rows.Scan(
			&r.Permalink,
			&r.Title,
			&r.Upvotes,
			&r.Comments,
			&r.Author,
			&r.CreatedUTC,
			&r.ScrapedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) Close() error {
	return db.conn.Close()
}
