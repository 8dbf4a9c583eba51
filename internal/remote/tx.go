package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/protocol"
)

// Recorder receives committed transactions.
type Recorder interface {
	RecordTx(rec TxRecord) error
}

type CallRecord struct {
	Op         string  `json:"op"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// AttemptRecord is one submit/fetch round trip as seen by the planner.
type AttemptRecord struct {
	Kind          string     `json:"kind"`
	Strategy      string     `json:"strategy"`
	Start         geom.Point `json:"start"`
	Finish        geom.Point `json:"finish"`
	ConnectorSize float64    `json:"connector_size"`
	Radius        float64    `json:"radius"`
	Success       bool       `json:"success"`
	Placed        int        `json:"placed"`
	Required      int        `json:"required"`
	Error         string     `json:"error,omitempty"`
}

type TxRecord struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Outcome    string          `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	Calls      []CallRecord    `json:"calls"`
	Attempts   []AttemptRecord `json:"attempts"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDryRun  = "dry_run"
)

var ErrTxClosed = errors.New("transaction already committed")

// Tx scopes every authority call made for one connection request. It is
// passed explicitly through the planner and committed once.
type Tx struct {
	id        string
	label     string
	authority Authority
	recorders []Recorder
	log       *zap.Logger
	started   time.Time

	mu       sync.Mutex
	calls    []CallRecord
	attempts []AttemptRecord
	done     bool
}

// Begin opens a transaction over a.
func Begin(a Authority, label string, logger *zap.Logger, recorders ...Recorder) *Tx {
	if logger == nil {
		logger = zap.NewNop()
	}
	tx := &Tx{
		id:        uuid.NewString(),
		label:     label,
		authority: a,
		recorders: recorders,
		started:   time.Now(),
	}
	tx.log = logger.With(zap.String("tx", tx.id))
	tx.log.Debug("tx begin", zap.String("label", label))
	return tx
}

func (tx *Tx) ID() string          { return tx.id }
func (tx *Tx) Logger() *zap.Logger { return tx.log }

func (tx *Tx) Calls() []CallRecord {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]CallRecord(nil), tx.calls...)
}

func (tx *Tx) Attempts() []AttemptRecord {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]AttemptRecord(nil), tx.attempts...)
}

func (tx *Tx) RecordAttempt(a AttemptRecord) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.attempts = append(tx.attempts, a)
}

// Commit closes the transaction and hands it to every recorder. Recorder
// failures are logged, never returned: the world has already changed.
func (tx *Tx) Commit(outcome string, cause error) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return ErrTxClosed
	}
	tx.done = true
	rec := TxRecord{
		ID:         tx.id,
		Label:      tx.label,
		StartedAt:  tx.started.UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    outcome,
		Calls:      append([]CallRecord(nil), tx.calls...),
		Attempts:   append([]AttemptRecord(nil), tx.attempts...),
	}
	tx.mu.Unlock()
	if cause != nil {
		rec.Error = cause.Error()
	}
	for _, r := range tx.recorders {
		if r == nil {
			continue
		}
		if err := r.RecordTx(rec); err != nil {
			tx.log.Warn("record tx", zap.Error(err))
		}
	}
	tx.log.Debug("tx commit", zap.String("outcome", outcome), zap.Int("calls", len(rec.Calls)), zap.Int("attempts", len(rec.Attempts)))
	return nil
}

func (tx *Tx) track(op string, start time.Time, err error) {
	c := CallRecord{Op: op, DurationMS: float64(time.Since(start).Microseconds()) / 1000}
	if err != nil {
		c.Error = err.Error()
	}
	tx.mu.Lock()
	tx.calls = append(tx.calls, c)
	tx.mu.Unlock()
}

func (tx *Tx) SubmitPathRequest(ctx context.Context, req PathRequest) (Handle, error) {
	start := time.Now()
	h, err := tx.authority.SubmitPathRequest(ctx, req)
	tx.track(protocol.OpSubmitPath, start, err)
	return h, err
}

func (tx *Tx) FetchPathOutcome(ctx context.Context, h Handle, req FetchRequest) (RawPathOutcome, error) {
	start := time.Now()
	out, err := tx.authority.FetchPathOutcome(ctx, h, req)
	tx.track(protocol.OpFetchPath, start, err)
	return out, err
}

func (tx *Tx) QueryEntities(ctx context.Context, p geom.Point, radius float64) ([]json.RawMessage, error) {
	start := time.Now()
	out, err := tx.authority.QueryEntities(ctx, p, radius)
	tx.track(protocol.OpQueryEntities, start, err)
	return out, err
}

func (tx *Tx) QueryEntitiesByKind(ctx context.Context, names []string, anchor geom.Point, radius float64) ([]json.RawMessage, error) {
	start := time.Now()
	out, err := tx.authority.QueryEntitiesByKind(ctx, names, anchor, radius)
	tx.track(protocol.OpQueryByKind, start, err)
	return out, err
}

func (tx *Tx) InstallCollisionBuffer(ctx context.Context, a, b geom.Point) error {
	start := time.Now()
	err := tx.authority.InstallCollisionBuffer(ctx, a, b)
	tx.track(protocol.OpInstallBuffer, start, err)
	return err
}

func (tx *Tx) ClearCollisionBuffer(ctx context.Context) error {
	start := time.Now()
	err := tx.authority.ClearCollisionBuffer(ctx)
	tx.track(protocol.OpClearBuffer, start, err)
	return err
}

func (tx *Tx) InventoryCount(ctx context.Context, name string) (int, error) {
	start := time.Now()
	n, err := tx.authority.InventoryCount(ctx, name)
	tx.track(protocol.OpInventoryCount, start, err)
	return n, err
}

func (tx *Tx) Pickup(ctx context.Context, e entity.Entity) error {
	start := time.Now()
	err := tx.authority.Pickup(ctx, e)
	tx.track(protocol.OpPickup, start, err)
	return err
}

var _ Authority = (*Tx)(nil)
