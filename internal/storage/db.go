package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"padron/internal"
	"padron/internal/util"
)

var (
	ErrEmptyName     = errors.New("name is required")
	ErrAccountExists = errors.New("account already exists")
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS usuarios (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombre TEXT UNIQUE NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// openSQLite opens (creating if needed) one SQLite file and applies schema.
func openSQLite(path, schema string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "init schema %s", filepath.Base(path))
	}
	return conn, nil
}

// Registry is the shared accounts database. It also knows where every
// account's private roll database lives.
type Registry struct {
	conn    *sql.DB
	dataDir string
}

func OpenRegistry(path, dataDir string) (*Registry, error) {
	conn, err := openSQLite(path, registrySchema)
	if err != nil {
		return nil, err
	}
	return &Registry{conn: conn, dataDir: dataDir}, nil
}

func (r *Registry) Close() error {
	return r.conn.Close()
}

func (r *Registry) CreateAccount(ctx context.Context, name string) (internal.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return internal.Account{}, ErrEmptyName
	}

	existing, err := r.GetAccount(ctx, name)
	if err != nil {
		return internal.Account{}, err
	}
	if existing != nil {
		return internal.Account{}, ErrAccountExists
	}

	if _, err := r.conn.ExecContext(ctx, `INSERT INTO usuarios (nombre) VALUES (?)`, name); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return internal.Account{}, ErrAccountExists
		}
		return internal.Account{}, errors.Wrap(err, "insert account")
	}

	account, err := r.GetAccount(ctx, name)
	if err != nil {
		return internal.Account{}, err
	}
	if account == nil {
		return internal.Account{}, errors.New("failed to create account")
	}
	return *account, nil
}

func (r *Registry) GetAccount(ctx context.Context, name string) (*internal.Account, error) {
	var a internal.Account
	err := r.conn.QueryRowContext(ctx, `
SELECT id, nombre, createdAt FROM usuarios WHERE nombre = ?
`, strings.TrimSpace(name)).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Registry) ListAccounts(ctx context.Context) ([]internal.Account, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id, nombre, createdAt FROM usuarios ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Account
	for rows.Next() {
		var a internal.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RollDBPath maps an account name to its private database file. Names that
// are not already filesystem-safe get a short hash suffix so that distinct
// accounts never share a file.
func (r *Registry) RollDBPath(account string) string {
	name := strings.TrimSpace(account)
	slug := util.Slug(name)
	if slug != name {
		sum := sha256.Sum256([]byte(name))
		slug = fmt.Sprintf("%s-%s", slug, hex.EncodeToString(sum[:4]))
	}
	return filepath.Join(r.dataDir, "padron_"+slug+".db")
}

// OpenRolls selects the account's roll store. The caller owns the returned
// handle and must Close it when the request is done.
func (r *Registry) OpenRolls(account string) (RollStore, error) {
	if strings.TrimSpace(account) == "" {
		return nil, ErrEmptyName
	}
	conn, err := openSQLite(r.RollDBPath(account), rollSchema)
	if err != nil {
		return nil, err
	}
	return &RollDB{conn: conn}, nil
}
