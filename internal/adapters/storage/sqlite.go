package storage

// sqlite.go: journal de trades append-only.
//
// Estrategia:
//   - `journal`: una fila por transición de capital (open = reserve,
//     settle = release). Nunca se actualiza ni se borra.
//   - `positions`: la última versión de cada posición, para leer rápido al
//     arrancar. Se escribe en la misma transacción que su entrada de journal.
//   - `meta`: el saldo inicial, fijado la primera vez que arranca el bot.
//
// Al reiniciar, el engine reproduce las posiciones en orden de apertura y
// reconstruye ledger y PnL.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id              TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL,
    slug            TEXT NOT NULL,
    question        TEXT,
    side            TEXT NOT NULL,
    entry_price     REAL NOT NULL,
    shares          REAL NOT NULL,
    capital         REAL NOT NULL,
    edge            REAL NOT NULL DEFAULT 0,
    market_end_date TEXT,
    opened_at       TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'OPEN',
    settled_at      TEXT,
    final_price     REAL NOT NULL DEFAULT 0,
    realized_pnl    REAL
);

CREATE TABLE IF NOT EXISTS journal (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT NOT NULL,
    kind        TEXT NOT NULL,
    amount      REAL NOT NULL,
    pnl         REAL NOT NULL DEFAULT 0,
    at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_journal_position ON journal(position_id);
`

const (
	metaInitialBalance = "initial_balance"

	// Nanosegundos fijos: el orden lexicográfico es el cronológico.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	// EntryOpen y EntrySettle son los tipos de entrada del journal.
	EntryOpen   = "open"
	EntrySettle = "settle"
)

// JournalEntry es una fila del journal.
type JournalEntry struct {
	Seq        int64
	PositionID string
	Kind       string
	Amount     float64
	PnL        float64
	At         time.Time
}

// SQLiteStorage implementa ports.TradeJournal usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// InitialBalance devuelve el saldo inicial guardado. La primera vez guarda
// fallback: un cambio posterior de configuración no reescribe el historial.
func (s *SQLiteStorage) InitialBalance(ctx context.Context, fallback float64) (float64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`,
		metaInitialBalance, strconv.FormatFloat(fallback, 'f', -1, 64),
	); err != nil {
		return 0, fmt.Errorf("storage.InitialBalance: insert: %w", err)
	}

	var raw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, metaInitialBalance,
	).Scan(&raw); err != nil {
		return 0, fmt.Errorf("storage.InitialBalance: select: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("storage.InitialBalance: parse %q: %w", raw, err)
	}
	return v, nil
}

// RecordOpen persiste una posición recién abierta y su entrada de reserve.
func (s *SQLiteStorage) RecordOpen(ctx context.Context, p domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordOpen: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, market_id, slug, question, side, entry_price, shares,
		                       capital, edge, market_end_date, opened_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MarketID, p.Slug, p.Question, p.Side, p.EntryPrice, p.Shares,
		p.Capital, p.Edge, formatTime(p.MarketEndDate), formatTime(p.OpenedAt), string(p.Status),
	); err != nil {
		return fmt.Errorf("storage.RecordOpen: insert %s: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal (position_id, kind, amount, pnl, at) VALUES (?, ?, ?, 0, ?)`,
		p.ID, EntryOpen, p.Capital, formatTime(p.OpenedAt),
	); err != nil {
		return fmt.Errorf("storage.RecordOpen: journal %s: %w", p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordOpen: commit: %w", err)
	}
	return nil
}

// RecordSettle persiste la liquidación. Una segunda liquidación de la misma
// posición no escribe nada.
func (s *SQLiteStorage) RecordSettle(ctx context.Context, p domain.Position) error {
	if !p.Status.Terminal() {
		return fmt.Errorf("storage.RecordSettle: %s has non-terminal status %s", p.ID, p.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordSettle: begin tx: %w", err)
	}
	defer tx.Rollback()

	var settledAt time.Time
	if p.SettledAt != nil {
		settledAt = *p.SettledAt
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, settled_at = ?, final_price = ?, realized_pnl = ?
		WHERE id = ? AND status = ?`,
		string(p.Status), formatTime(settledAt), p.FinalPrice, p.PnL(),
		p.ID, string(domain.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSettle: update %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.RecordSettle: rows affected: %w", err)
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, p.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("storage.RecordSettle: %s: %w", p.ID, domain.ErrPositionNotFound)
		}
		if err != nil {
			return fmt.Errorf("storage.RecordSettle: lookup %s: %w", p.ID, err)
		}
		return nil // ya liquidada
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal (position_id, kind, amount, pnl, at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, EntrySettle, p.Capital, p.PnL(), formatTime(settledAt),
	); err != nil {
		return fmt.Errorf("storage.RecordSettle: journal %s: %w", p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordSettle: commit: %w", err)
	}
	return nil
}

// LoadPositions devuelve todas las posiciones en orden de apertura.
func (s *SQLiteStorage) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, slug, COALESCE(question, ''), side, entry_price, shares,
		       capital, edge, COALESCE(market_end_date, ''), opened_at, status,
		       COALESCE(settled_at, ''), final_price, realized_pnl
		FROM positions
		ORDER BY opened_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                            domain.Position
			status                       string
			endDate, openedAt, settledAt string
			pnl                          sql.NullFloat64
		)
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Slug, &p.Question, &p.Side, &p.EntryPrice, &p.Shares,
			&p.Capital, &p.Edge, &endDate, &openedAt, &status,
			&settledAt, &p.FinalPrice, &pnl,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan row: %w", err)
		}

		st, ok := domain.ParseStatus(status)
		if !ok {
			return nil, fmt.Errorf("storage.LoadPositions: %s has unknown status %q", p.ID, status)
		}
		p.Status = st
		p.MarketEndDate = parseTime(endDate)
		p.OpenedAt = parseTime(openedAt)
		if t := parseTime(settledAt); !t.IsZero() {
			p.SettledAt = &t
		}
		if pnl.Valid {
			v := pnl.Float64
			p.RealizedPnL = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Entries devuelve el journal completo en orden de escritura.
func (s *SQLiteStorage) Entries(ctx context.Context) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, position_id, kind, amount, pnl, at FROM journal ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage.Entries: query: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var at string
		if err := rows.Scan(&e.Seq, &e.PositionID, &e.Kind, &e.Amount, &e.PnL, &at); err != nil {
			return nil, fmt.Errorf("storage.Entries: scan row: %w", err)
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
