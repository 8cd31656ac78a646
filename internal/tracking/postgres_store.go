package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id            UUID PRIMARY KEY,
	feature       TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	image_count   INT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	user_id       TEXT,
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_created_at ON usage_events (created_at DESC);

CREATE TABLE IF NOT EXISTS daily_summaries (
	date          TEXT PRIMARY KEY,
	total_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
	request_count BIGINT NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_feature_costs (
	date    TEXT NOT NULL,
	feature TEXT NOT NULL,
	cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (date, feature)
);

CREATE TABLE IF NOT EXISTS daily_model_costs (
	date  TEXT NOT NULL,
	model TEXT NOT NULL,
	cost  DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (date, model)
);
`

// EnsureSchema creates the tracking tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tracking schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *UsageEvent) error {
	var metadataJSON *string
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		str := string(data)
		metadataJSON = &str
	}

	var userID *string
	if event.UserID != "" {
		userID = &event.UserID
	}

	query := `
		INSERT INTO usage_events (id, feature, model, input_tokens, output_tokens, image_count, cost_usd, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(ctx, query,
		event.ID, string(event.Feature), event.Model,
		event.InputTokens, event.OutputTokens, event.ImageCount,
		event.CostUSD, userID, metadataJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}

	return nil
}

// ApplyUsage folds one event's contribution into the summary rows for date.
// All three upserts run in a single transaction and increment in place
// (col = col + EXCLUDED.col), so concurrent writers for the same date
// compose instead of overwriting each other.
func (s *PostgresStore) ApplyUsage(ctx context.Context, date string, feature Feature, model string, cost float64, now time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin summary transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_summaries (date, total_cost, request_count, last_updated)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (date) DO UPDATE SET
			total_cost    = daily_summaries.total_cost + EXCLUDED.total_cost,
			request_count = daily_summaries.request_count + 1,
			last_updated  = EXCLUDED.last_updated
	`, date, cost, now)
	if err != nil {
		return fmt.Errorf("failed to upsert daily summary: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_feature_costs (date, feature, cost)
		VALUES ($1, $2, $3)
		ON CONFLICT (date, feature) DO UPDATE SET
			cost = daily_feature_costs.cost + EXCLUDED.cost
	`, date, string(feature), cost)
	if err != nil {
		return fmt.Errorf("failed to upsert feature cost: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_model_costs (date, model, cost)
		VALUES ($1, $2, $3)
		ON CONFLICT (date, model) DO UPDATE SET
			cost = daily_model_costs.cost + EXCLUDED.cost
	`, date, model, cost)
	if err != nil {
		return fmt.Errorf("failed to upsert model cost: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit summary transaction: %w", err)
	}

	return nil
}

func (s *PostgresStore) SummariesInRange(ctx context.Context, startDate, endDate string) ([]*DailySummary, error) {
	query := `
		SELECT date, total_cost, request_count, last_updated
		FROM daily_summaries
		WHERE date >= $1 AND date <= $2
		ORDER BY date ASC
	`
	rows, err := s.db.Query(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	byDate := make(map[string]*DailySummary)
	var summaries []*DailySummary
	for rows.Next() {
		sum := &DailySummary{
			ByFeature: make(map[string]float64),
			ByModel:   make(map[string]float64),
		}
		if err := rows.Scan(&sum.Date, &sum.TotalCost, &sum.RequestCount, &sum.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		byDate[sum.Date] = sum
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summaries: %w", err)
	}

	if len(summaries) == 0 {
		return nil, nil
	}

	if err := s.fillBreakdown(ctx, startDate, endDate, byDate, `
		SELECT date, feature, cost FROM daily_feature_costs
		WHERE date >= $1 AND date <= $2
	`, func(sum *DailySummary, key string, cost float64) {
		sum.ByFeature[key] = cost
	}); err != nil {
		return nil, err
	}

	if err := s.fillBreakdown(ctx, startDate, endDate, byDate, `
		SELECT date, model, cost FROM daily_model_costs
		WHERE date >= $1 AND date <= $2
	`, func(sum *DailySummary, key string, cost float64) {
		sum.ByModel[key] = cost
	}); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *PostgresStore) fillBreakdown(ctx context.Context, startDate, endDate string, byDate map[string]*DailySummary, query string, assign func(*DailySummary, string, float64)) error {
	rows, err := s.db.Query(ctx, query, startDate, endDate)
	if err != nil {
		return fmt.Errorf("failed to query cost breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date, key string
		var cost float64
		if err := rows.Scan(&date, &key, &cost); err != nil {
			return fmt.Errorf("failed to scan cost breakdown: %w", err)
		}
		if sum, ok := byDate[date]; ok {
			assign(sum, key, cost)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cost breakdown: %w", err)
	}

	return nil
}

func (s *PostgresStore) EventsBetween(ctx context.Context, from, to time.Time, limit int) ([]*UsageEvent, error) {
	query := `
		SELECT id, feature, model, input_tokens, output_tokens, image_count, cost_usd, user_id, metadata, created_at
		FROM usage_events
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		var feature string
		var userID, metadataJSON *string
		err := rows.Scan(
			&e.ID, &feature, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.ImageCount,
			&e.CostUSD, &userID, &metadataJSON, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.Feature = Feature(feature)
		if userID != nil {
			e.UserID = *userID
		}
		if metadataJSON != nil {
			if err := json.Unmarshal([]byte(*metadataJSON), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}
