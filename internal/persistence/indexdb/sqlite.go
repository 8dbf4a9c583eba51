// Package indexdb keeps a queryable sqlite copy of committed transactions.
// The journal stays the source of truth; the index may drop records under
// load.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"linkplan.ai/internal/remote"
)

// tsLayout is fixed width so started_at sorts as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan remote.TxRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTotal      atomic.Uint64
	writeFailTotal atomic.Uint64
}

type Stats struct {
	DropTotal      uint64
	WriteFailTotal uint64
	QueueDepth     int
	QueueCapacity  int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan remote.TxRecord, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			calls INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_started ON transactions(started_at);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			tx_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			strategy TEXT NOT NULL,
			start_x REAL NOT NULL,
			start_y REAL NOT NULL,
			finish_x REAL NOT NULL,
			finish_y REAL NOT NULL,
			connector_size REAL NOT NULL,
			radius REAL NOT NULL,
			success INTEGER NOT NULL,
			placed INTEGER NOT NULL,
			required INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (tx_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_kind ON attempts(kind, strategy, success);`,
		`CREATE TABLE IF NOT EXISTS calls (
			tx_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			op TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			error TEXT,
			PRIMARY KEY (tx_id, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordTx queues rec for indexing. It never blocks: when the writer falls
// behind the record is dropped and counted.
func (s *SQLiteIndex) RecordTx(rec remote.TxRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- rec:
	default:
		s.dropTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTotal:      s.dropTotal.Load(),
		WriteFailTotal: s.writeFailTotal.Load(),
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for rec := range s.ch {
		begin()
		if tx == nil {
			s.writeFailTotal.Add(1)
			continue
		}
		if err := insertTx(ctx, tx, rec); err != nil {
			s.writeFailTotal.Add(1)
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func insertTx(ctx context.Context, tx *sql.Tx, rec remote.TxRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO transactions(id,label,started_at,finished_at,outcome,error,calls,attempts,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Label,
		rec.StartedAt.UTC().Format(tsLayout), rec.FinishedAt.UTC().Format(tsLayout),
		rec.Outcome, nullable(rec.Error), len(rec.Calls), len(rec.Attempts), string(raw),
	); err != nil {
		return err
	}
	for i, a := range rec.Attempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO attempts(tx_id,seq,kind,strategy,start_x,start_y,finish_x,finish_y,connector_size,radius,success,placed,required,error) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rec.ID, i, a.Kind, a.Strategy,
			a.Start.X, a.Start.Y, a.Finish.X, a.Finish.Y,
			a.ConnectorSize, a.Radius, boolInt(a.Success), a.Placed, a.Required, nullable(a.Error),
		); err != nil {
			return err
		}
	}
	for i, c := range rec.Calls {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO calls(tx_id,seq,op,duration_ms,error) VALUES(?,?,?,?,?)`,
			rec.ID, i, c.Op, c.DurationMS, nullable(c.Error),
		); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
