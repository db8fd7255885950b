package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresSink writes audit records to an append-only PostgreSQL table.
// The table carries no UPDATE path anywhere in the codebase; tampering at
// the storage layer is caught by Record.Verify on read.
type PostgresSink struct {
	db *sql.DB
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates an audit sink backed by PostgreSQL.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate creates the audit_log table if it doesn't exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id             VARCHAR(64) PRIMARY KEY,
			event_id       VARCHAR(128) NOT NULL,
			action         VARCHAR(64) NOT NULL,
			previous_state JSONB,
			new_state      JSONB NOT NULL,
			risk_score     INT NOT NULL,
			model_version  VARCHAR(64) NOT NULL,
			actor_type     VARCHAR(16) NOT NULL,
			actor_id       VARCHAR(128),
			reason         TEXT,
			ts             TIMESTAMPTZ NOT NULL,
			record_hash    CHAR(64) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_event_id ON audit_log (event_id, ts);
	`)
	return err
}

// Append inserts the records in one transaction.
func (s *PostgresSink) Append(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records {
		var prev []byte
		if r.PreviousState != nil {
			prev, err = json.Marshal(r.PreviousState)
			if err != nil {
				return fmt.Errorf("failed to encode previous state: %w", err)
			}
		}
		state, err := json.Marshal(r.NewState)
		if err != nil {
			return fmt.Errorf("failed to encode new state: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, event_id, action, previous_state, new_state, risk_score, model_version, actor_type, actor_id, reason, ts, record_hash)
			VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6, $7, $8, $9, $10, $11, $12)
		`, r.ID, r.EventID, r.Action, nullable(prev), state, r.RiskScore,
			r.ModelVersion, string(r.ActorType), nullStr(r.ActorID), nullStr(r.Reason), r.Timestamp, r.RecordHash)
		if err != nil {
			return fmt.Errorf("failed to insert audit record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Trail returns the records for one event, oldest first.
func (s *PostgresSink) Trail(ctx context.Context, eventID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, action, COALESCE(previous_state::TEXT, ''), new_state::TEXT,
			risk_score, model_version, actor_type, COALESCE(actor_id, ''), COALESCE(reason, ''),
			ts, record_hash
		FROM audit_log WHERE event_id = $1 ORDER BY ts
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var (
			r          Record
			prev       string
			state      string
			actorType  string
			recordedAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.EventID, &r.Action, &prev, &state,
			&r.RiskScore, &r.ModelVersion, &actorType, &r.ActorID, &r.Reason,
			&recordedAt, &r.RecordHash); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if prev != "" {
			r.PreviousState = &PreviousState{}
			if err := json.Unmarshal([]byte(prev), r.PreviousState); err != nil {
				return nil, fmt.Errorf("failed to decode previous state: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(state), &r.NewState); err != nil {
			return nil, fmt.Errorf("failed to decode audit state: %w", err)
		}
		r.ActorType = ActorType(actorType)
		r.Timestamp = recordedAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
