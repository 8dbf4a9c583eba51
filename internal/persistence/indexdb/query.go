package indexdb

import (
	"context"
	"database/sql"
	"time"

	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/remote"
)

// TxSummary is one row of the transactions table.
type TxSummary struct {
	ID         string
	Label      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Error      string
	Calls      int
	Attempts   int
}

// StrategyStat aggregates attempts per connection kind and strategy.
type StrategyStat struct {
	Kind      string
	Strategy  string
	Total     int
	Successes int
}

// Recent returns the newest transactions first.
func (s *SQLiteIndex) Recent(ctx context.Context, limit int) ([]TxSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,label,started_at,finished_at,outcome,error,calls,attempts FROM transactions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TxSummary
	for rows.Next() {
		var (
			t                 TxSummary
			started, finished string
			errText           sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Label, &started, &finished, &t.Outcome, &errText, &t.Calls, &t.Attempts); err != nil {
			return nil, err
		}
		t.StartedAt, _ = time.Parse(tsLayout, started)
		t.FinishedAt, _ = time.Parse(tsLayout, finished)
		t.Error = errText.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Attempts returns the attempts of one transaction in the order they ran.
func (s *SQLiteIndex) Attempts(ctx context.Context, txID string) ([]remote.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind,strategy,start_x,start_y,finish_x,finish_y,connector_size,radius,success,placed,required,error
		 FROM attempts WHERE tx_id = ? ORDER BY seq`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []remote.AttemptRecord
	for rows.Next() {
		var (
			a       remote.AttemptRecord
			sx, sy  float64
			fx, fy  float64
			success int
			errText sql.NullString
		)
		if err := rows.Scan(&a.Kind, &a.Strategy, &sx, &sy, &fx, &fy, &a.ConnectorSize, &a.Radius, &success, &a.Placed, &a.Required, &errText); err != nil {
			return nil, err
		}
		a.Start, a.Finish = geom.Pt(sx, sy), geom.Pt(fx, fy)
		a.Success = success != 0
		a.Error = errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// StrategyStats counts attempts and successes per kind and strategy.
func (s *SQLiteIndex) StrategyStats(ctx context.Context) ([]StrategyStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind,strategy,COUNT(*),SUM(success) FROM attempts GROUP BY kind,strategy ORDER BY kind,strategy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StrategyStat
	for rows.Next() {
		var st StrategyStat
		if err := rows.Scan(&st.Kind, &st.Strategy, &st.Total, &st.Successes); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
