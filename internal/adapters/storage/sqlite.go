package storage

// sqlite.go: journal de auditoría del trader.
//
// Estrategia:
//   - `closed_trades`: una fila por posición cerrada (UPSERT por id).
//   - `activities`: decisiones de entrada (skip/pending/buy/...), append-only.
//   - `redemptions`: resultado de cada intento de settlement.
//   - Prune automático al arrancar: activities > 14d. Trades y redemptions se conservan.
//
// El journal es solo observabilidad: nunca forma parte del camino de decisión.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
    id            TEXT PRIMARY KEY,
    event_id      TEXT    NOT NULL,
    asset_id      TEXT    NOT NULL,
    market_key    TEXT    NOT NULL,
    label         TEXT,
    side          TEXT    NOT NULL,
    goal          TEXT,
    score         TEXT,
    entry_price   REAL    NOT NULL DEFAULT 0,
    entry_token   REAL    NOT NULL DEFAULT 0,
    exit_price    REAL    NOT NULL DEFAULT 0,
    shares        REAL    NOT NULL DEFAULT 0,
    committed     REAL    NOT NULL DEFAULT 0,
    pnl           REAL    NOT NULL DEFAULT 0,
    exit_reason   TEXT,
    exit_attempts INTEGER NOT NULL DEFAULT 0,
    entry_time    DATETIME NOT NULL,
    exit_time     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    at        DATETIME NOT NULL,
    event_id  TEXT NOT NULL,
    label     TEXT,
    source    TEXT,
    score     TEXT,
    goal      TEXT,
    decision  TEXT NOT NULL,
    reason    TEXT
);

CREATE TABLE IF NOT EXISTS redemptions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    executed_at  DATETIME NOT NULL,
    asset_id     TEXT,
    condition_id TEXT,
    title        TEXT,
    path         TEXT NOT NULL,
    success      INTEGER NOT NULL DEFAULT 0,
    tx_hash      TEXT,
    error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_exit   ON closed_trades(exit_time DESC);
CREATE INDEX IF NOT EXISTS idx_activity_at   ON activities(at DESC);
CREATE INDEX IF NOT EXISTS idx_redemption_at ON redemptions(executed_at DESC);
`

const retentionActivities = 14 * 24 * time.Hour // activities: 14 días

// TradeStats resume el histórico de trades cerrados.
type TradeStats struct {
	Trades   int
	Wins     int
	Losses   int
	TotalPnL float64
	BestPnL  float64
	WorstPnL float64
}

// WinRate devuelve el porcentaje de trades ganadores (0–100).
func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// SQLiteJournal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// RecordActivity guarda una decisión de entrada.
func (j *SQLiteJournal) RecordActivity(ctx context.Context, a domain.GoalActivity) error {
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO activities (at, event_id, label, source, score, goal, decision, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.At.UTC(), a.EventID, a.Label, a.Source, a.Score, string(a.Goal), string(a.Decision), a.Reason,
	); err != nil {
		return fmt.Errorf("storage.RecordActivity: %w", err)
	}
	return nil
}

// RecordClosedTrade hace upsert de una posición cerrada.
func (j *SQLiteJournal) RecordClosedTrade(ctx context.Context, p domain.ManagedPosition) error {
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO closed_trades
			(id, event_id, asset_id, market_key, label, side, goal, score,
			 entry_price, entry_token, exit_price, shares, committed, pnl,
			 exit_reason, exit_attempts, entry_time, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exit_price    = excluded.exit_price,
			shares        = excluded.shares,
			pnl           = excluded.pnl,
			exit_reason   = excluded.exit_reason,
			exit_attempts = excluded.exit_attempts,
			exit_time     = excluded.exit_time`,
		p.ID, p.EventID, p.AssetID, p.MarketKey, p.Label, string(p.Side), string(p.Goal), p.ScoreAtEntry.String(),
		p.EntryPrice, p.EntryTokenPrice, p.ExitPrice, p.Shares, p.Committed, p.PnL,
		string(p.ExitReason), p.ExitAttempts, p.EntryTime.UTC(), p.ExitTime.UTC(),
	); err != nil {
		return fmt.Errorf("storage.RecordClosedTrade: %s: %w", p.ID, err)
	}
	return nil
}

// RecordRedemption guarda el resultado de un intento de settlement.
func (j *SQLiteJournal) RecordRedemption(ctx context.Context, o domain.RedeemOutcome) error {
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO redemptions (executed_at, asset_id, condition_id, title, path, success, tx_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ExecutedAt.UTC(), o.AssetID, o.ConditionID, o.Title, string(o.Path), boolToInt(o.Success), o.TxHash, o.Error,
	); err != nil {
		return fmt.Errorf("storage.RecordRedemption: %w", err)
	}
	return nil
}

// ClosedTrades devuelve los trades cerrados desde since, más recientes primero.
func (j *SQLiteJournal) ClosedTrades(ctx context.Context, since time.Time) ([]domain.ManagedPosition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event_id, asset_id, market_key, label, side, goal,
		       entry_price, entry_token, exit_price, shares, committed, pnl,
		       exit_reason, exit_attempts, entry_time, exit_time
		FROM closed_trades
		WHERE exit_time >= ?
		ORDER BY exit_time DESC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ManagedPosition
	for rows.Next() {
		var p domain.ManagedPosition
		var side, goal, reason string
		if err := rows.Scan(
			&p.ID, &p.EventID, &p.AssetID, &p.MarketKey, &p.Label, &side, &goal,
			&p.EntryPrice, &p.EntryTokenPrice, &p.ExitPrice, &p.Shares, &p.Committed, &p.PnL,
			&reason, &p.ExitAttempts, &p.EntryTime, &p.ExitTime,
		); err != nil {
			return nil, fmt.Errorf("storage.ClosedTrades: scan row: %w", err)
		}
		p.Side = domain.Side(side)
		p.Goal = domain.GoalKind(goal)
		p.ExitReason = domain.ExitReason(reason)
		p.Settled = true
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats calcula el resumen del histórico de trades cerrados.
func (j *SQLiteJournal) Stats(ctx context.Context) (TradeStats, error) {
	var s TradeStats
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(MAX(pnl), 0),
		       COALESCE(MIN(pnl), 0)
		FROM closed_trades
	`).Scan(&s.Trades, &s.Wins, &s.Losses, &s.TotalPnL, &s.BestPnL, &s.WorstPnL)
	if err != nil {
		return s, fmt.Errorf("storage.Stats: %w", err)
	}
	return s, nil
}

// Redemptions devuelve los últimos limit resultados de settlement.
func (j *SQLiteJournal) Redemptions(ctx context.Context, limit int) ([]domain.RedeemOutcome, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT executed_at, asset_id, condition_id, title, path, success, tx_hash, error
		FROM redemptions
		ORDER BY executed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Redemptions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RedeemOutcome
	for rows.Next() {
		var o domain.RedeemOutcome
		var path string
		var success int
		if err := rows.Scan(&o.ExecutedAt, &o.AssetID, &o.ConditionID, &o.Title, &path, &success, &o.TxHash, &o.Error); err != nil {
			return nil, fmt.Errorf("storage.Redemptions: scan row: %w", err)
		}
		o.Path = domain.SettlementPath(path)
		o.Success = success == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// pruneOld elimina actividad antigua para mantener la DB ligera.
func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionActivities)
	j.db.ExecContext(ctx, `DELETE FROM activities WHERE at < ?`, cutoff)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
