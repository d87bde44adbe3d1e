package sqliteutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects between a local sqlite file and a remote libsql
// database. Url takes precedence when set.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (c Config) Open(schema string) (*sql.DB, error) {
	if c.Url != "" {
		return OpenRemote(schema, c.Url, c.AuthToken)
	}
	return OpenDB(schema, c.File)
}

// OpenDB opens (creating if necessary) a sqlite database at path and
// applies schema. ":memory:" is accepted for tests.
func OpenDB(schema, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite only allows a single writer
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	err = applySchema(db, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func OpenRemote(schema, rawUrl, authToken string) (*sql.DB, error) {
	dsn := rawUrl
	if authToken != "" {
		parsed, err := url.Parse(rawUrl)
		if err != nil {
			return nil, err
		}
		query := parsed.Query()
		query.Set("authToken", authToken)
		parsed.RawQuery = query.Encode()
		dsn = parsed.String()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}
	err = applySchema(db, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applySchema(db *sql.DB, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}
	_, err := db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
