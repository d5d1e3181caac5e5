package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"padron/internal"
	"padron/internal/util"
)

// RollStore is the per-account CRUD surface over rolls and their members.
type RollStore interface {
	CreateRoll(ctx context.Context, name string) (internal.Roll, error)
	ListRolls(ctx context.Context) ([]internal.Roll, error)
	GetRoll(ctx context.Context, id int64) (*internal.Roll, error)

	ListMembers(ctx context.Context, rollID int64, search string) ([]internal.Member, error)
	Summary(ctx context.Context, rollID int64) (internal.Summary, error)
	ReplaceMembers(ctx context.Context, rollID int64, records []internal.Record) (int, error)
	AddMember(ctx context.Context, rollID int64, record internal.Record) (int64, error)
	MarkVoted(ctx context.Context, rollID, memberID int64) (bool, error)
	DeleteMember(ctx context.Context, rollID, memberID int64) (bool, error)

	InsertImportRun(ctx context.Context, run internal.ImportRun) error
	ListImportRuns(ctx context.Context, rollID int64, limit int) ([]internal.ImportRun, error)

	Close() error
}

const rollSchema = `
CREATE TABLE IF NOT EXISTS padrones (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombre TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS socios (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  padron_id INTEGER NOT NULL,
  nombre TEXT NOT NULL,
  dni TEXT NOT NULL,
  voto INTEGER NOT NULL DEFAULT 0,
  FOREIGN KEY (padron_id) REFERENCES padrones(id)
);
CREATE INDEX IF NOT EXISTS idx_socios_padron ON socios(padron_id, nombre);

CREATE TABLE IF NOT EXISTS imports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  padron_id INTEGER NOT NULL,
  filename TEXT NOT NULL,
  records INTEGER NOT NULL,
  durationMs INTEGER NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (padron_id) REFERENCES padrones(id)
);
`

type RollDB struct {
	conn *sql.DB
}

var _ RollStore = (*RollDB)(nil)

func (d *RollDB) Close() error {
	return d.conn.Close()
}

func (d *RollDB) CreateRoll(ctx context.Context, name string) (internal.Roll, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return internal.Roll{}, ErrEmptyName
	}
	result, err := d.conn.ExecContext(ctx, `INSERT INTO padrones (nombre) VALUES (?)`, name)
	if err != nil {
		return internal.Roll{}, errors.Wrap(err, "insert roll")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.Roll{}, err
	}

	roll, err := d.GetRoll(ctx, id)
	if err != nil {
		return internal.Roll{}, err
	}
	if roll == nil {
		return internal.Roll{}, errors.New("failed to create roll")
	}
	return *roll, nil
}

func (d *RollDB) ListRolls(ctx context.Context) ([]internal.Roll, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, nombre, createdAt FROM padrones ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Roll
	for rows.Next() {
		var r internal.Roll
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *RollDB) GetRoll(ctx context.Context, id int64) (*internal.Roll, error) {
	var r internal.Roll
	err := d.conn.QueryRowContext(ctx, `SELECT id, nombre, createdAt FROM padrones WHERE id = ?`, id).Scan(&r.ID, &r.Name, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListMembers returns the roll ordered by name. A non-empty search keeps only
// members whose name or national ID contains it, ignoring case.
func (d *RollDB) ListMembers(ctx context.Context, rollID int64, search string) ([]internal.Member, error) {
	query := `SELECT id, padron_id, nombre, dni, voto FROM socios WHERE padron_id = ?`
	args := []any{rollID}
	if search = util.NormalizeName(search); search != "" {
		like := "%" + escapeLike(search) + "%"
		query += ` AND (upper(nombre) LIKE ? ESCAPE '\' OR dni LIKE ? ESCAPE '\')`
		args = append(args, like, like)
	}
	query += ` ORDER BY nombre, id`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Member
	for rows.Next() {
		var m internal.Member
		var voto int
		if err := rows.Scan(&m.ID, &m.RollID, &m.Name, &m.NationalID, &voto); err != nil {
			return nil, err
		}
		m.Voted = voto == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *RollDB) Summary(ctx context.Context, rollID int64) (internal.Summary, error) {
	var s internal.Summary
	err := d.conn.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN voto = 1 THEN 1 ELSE 0 END), 0)
FROM socios WHERE padron_id = ?
`, rollID).Scan(&s.Total, &s.Voted)
	if err != nil {
		return internal.Summary{}, err
	}
	s.Remaining = s.Total - s.Voted
	return s, nil
}

// ReplaceMembers swaps the whole member list of a roll in one transaction, so
// a concurrent re-import of the same roll waits instead of interleaving.
func (d *RollDB) ReplaceMembers(ctx context.Context, rollID int64, records []internal.Record) (int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM socios WHERE padron_id = ?`, rollID); err != nil {
		return 0, errors.Wrap(err, "clear members")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO socios (padron_id, nombre, dni) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rollID, rec.Name, rec.NationalID); err != nil {
			return 0, errors.Wrap(err, "insert member")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (d *RollDB) AddMember(ctx context.Context, rollID int64, record internal.Record) (int64, error) {
	result, err := d.conn.ExecContext(ctx, `
INSERT INTO socios (padron_id, nombre, dni) VALUES (?, ?, ?)
`, rollID, record.Name, record.NationalID)
	if err != nil {
		return 0, errors.Wrap(err, "insert member")
	}
	return result.LastInsertId()
}

// MarkVoted reports whether a member of the roll was found. The flag only ever
// moves to voted.
func (d *RollDB) MarkVoted(ctx context.Context, rollID, memberID int64) (bool, error) {
	result, err := d.conn.ExecContext(ctx, `UPDATE socios SET voto = 1 WHERE id = ? AND padron_id = ?`, memberID, rollID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (d *RollDB) DeleteMember(ctx context.Context, rollID, memberID int64) (bool, error) {
	result, err := d.conn.ExecContext(ctx, `DELETE FROM socios WHERE id = ? AND padron_id = ?`, memberID, rollID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (d *RollDB) InsertImportRun(ctx context.Context, run internal.ImportRun) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO imports (traceId, padron_id, filename, records, durationMs) VALUES (?, ?, ?, ?, ?)
`, run.TraceID, run.RollID, run.Filename, run.Records, run.DurationMs)
	return err
}

func (d *RollDB) ListImportRuns(ctx context.Context, rollID int64, limit int) ([]internal.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, traceId, padron_id, filename, records, durationMs, createdAt
FROM imports WHERE padron_id = ? ORDER BY id DESC LIMIT ?
`, rollID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ImportRun
	for rows.Next() {
		var run internal.ImportRun
		if err := rows.Scan(&run.ID, &run.TraceID, &run.RollID, &run.Filename, &run.Records, &run.DurationMs, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
