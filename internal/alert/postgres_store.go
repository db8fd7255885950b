package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlasrisk/atlas/internal/risk"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id                VARCHAR(64) PRIMARY KEY,
			event_id          VARCHAR(128) NOT NULL,
			user_id           VARCHAR(128) NOT NULL,
			alert_type        VARCHAR(40) NOT NULL,
			severity          VARCHAR(16) NOT NULL,
			status            VARCHAR(16) NOT NULL,
			title             TEXT NOT NULL,
			description       TEXT NOT NULL,
			risk_score        INT NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
			risk_level        VARCHAR(16) NOT NULL,
			amount            NUMERIC(20,2) NOT NULL DEFAULT 0,
			merchant_category VARCHAR(64),
			country           VARCHAR(8),
			top_factors       JSONB,
			created_at        TIMESTAMPTZ NOT NULL,
			acknowledged_at   TIMESTAMPTZ,
			acknowledged_by   VARCHAR(128),
			closed_at         TIMESTAMPTZ,
			closed_by         VARCHAR(128),
			resolution        TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_status_created
			ON alerts (status, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_alerts_user
			ON alerts (user_id, created_at DESC);
	`)
	return err
}

const alertColumns = `
	id, event_id, user_id, alert_type, severity, status, title, description,
	risk_score, risk_level, amount::TEXT,
	COALESCE(merchant_category, ''), COALESCE(country, ''),
	COALESCE(top_factors, 'null'::JSONB),
	created_at, acknowledged_at, COALESCE(acknowledged_by, ''),
	closed_at, COALESCE(closed_by, ''), COALESCE(resolution, '')`

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	factors, err := json.Marshal(a.TopFactors)
	if err != nil {
		return fmt.Errorf("failed to encode alert factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, event_id, user_id, alert_type, severity, status, title,
			description, risk_score, risk_level, amount, merchant_category,
			country, top_factors, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::NUMERIC(20,2),
			NULLIF($12, ''), NULLIF($13, ''), $14, $15)
	`, a.ID, a.EventID, a.UserID, string(a.Type), string(a.Severity),
		string(a.Status), a.Title, a.Description, a.RiskScore,
		string(a.RiskLevel), a.Amount.StringFixed(2), a.MerchantCategory,
		a.Country, factors, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts WHERE id = $1
	`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Update(ctx context.Context, a *Alert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			status          = $2,
			acknowledged_at = $3,
			acknowledged_by = NULLIF($4, ''),
			closed_at       = $5,
			closed_by       = NULLIF($6, ''),
			resolution      = NULLIF($7, '')
		WHERE id = $1
	`, a.ID, string(a.Status), a.AcknowledgedAt, a.AcknowledgedBy,
		a.ClosedAt, a.ClosedBy, a.Resolution)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context, f Filter) ([]*Alert, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE status IN ('active', 'acknowledged')
			AND ($1 = '' OR severity = $1)
			AND ($2 = '' OR alert_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, string(f.Severity), string(f.Type), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, severity, alert_type, COUNT(*)
		FROM alerts
		GROUP BY status, severity, alert_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &Stats{
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
	}
	for rows.Next() {
		var status, severity, typ string
		var count int
		if err := rows.Scan(&status, &severity, &typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert stats: %w", err)
		}
		stats.Total += count
		if Status(status) == StatusActive || Status(status) == StatusAcknowledged {
			stats.Active += count
			stats.BySeverity[Severity(severity)] += count
			stats.ByType[Type(typ)] += count
		}
	}
	return stats, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*Alert, error) {
	a := &Alert{}
	var typ, severity, status, level, amount string
	var factors []byte
	var ackAt, closedAt sql.NullTime
	err := sc.Scan(&a.ID, &a.EventID, &a.UserID, &typ, &severity, &status,
		&a.Title, &a.Description, &a.RiskScore, &level, &amount,
		&a.MerchantCategory, &a.Country, &factors,
		&a.CreatedAt, &ackAt, &a.AcknowledgedBy,
		&closedAt, &a.ClosedBy, &a.Resolution)
	if err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	a.Severity = Severity(severity)
	a.Status = Status(status)
	a.RiskLevel = risk.Level(level)
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to decode alert amount: %w", err)
	}
	if err := json.Unmarshal(factors, &a.TopFactors); err != nil {
		return nil, fmt.Errorf("failed to decode alert factors: %w", err)
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	return a, nil
}
