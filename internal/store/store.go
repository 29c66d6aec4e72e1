package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"civicmatch/internal/match"
	"civicmatch/internal/matching"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InteractionRecord is one stored match or refine call.
type InteractionRecord struct {
	ID             string
	RequestID      string
	Operation      string
	Provider       string
	Input          string
	LocationHint   string
	RejectedIDs    []string
	Response       match.Response
	MatchCount     int
	PrimaryMatchID string
	Confidence     *int
	ProcessingMS   int64
	CreatedAt      time.Time
}

func (s *Store) RecordInteraction(ctx context.Context, in matching.Interaction) error {
	rejected := in.RejectedIDs
	if rejected == nil {
		rejected = []string{}
	}
	rejectedJSON, err := json.Marshal(rejected)
	if err != nil {
		return err
	}
	respJSON, err := json.Marshal(in.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	var primary sql.NullString
	if m, ok := in.Response.Primary(); ok {
		primary = sql.NullString{String: m.ID, Valid: true}
	}
	var confidence sql.NullInt64
	if in.Response.Confidence != nil {
		confidence = sql.NullInt64{Int64: int64(*in.Response.Confidence), Valid: true}
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO match_interactions
		(id, request_id, operation, provider, input, location_hint, rejected_ids, response, match_count, primary_match_id, confidence, processing_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12,$13)`,
		uuid.NewString(), in.RequestID, string(in.Operation), in.Provider, in.Input, in.LocationHint,
		string(rejectedJSON), string(respJSON), len(in.Response.Matches), primary, confidence,
		in.Response.ProcessingTime, createdAt)
	return err
}

func (s *Store) RecordFeedback(ctx context.Context, fb matching.Feedback) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO match_feedback (id, request_id, match_id, kind, comment) VALUES ($1,$2,$3,$4,$5)`,
		uuid.NewString(), fb.RequestID, fb.MatchID, string(fb.Kind), fb.Comment)
	return err
}

func (s *Store) ListInteractions(ctx context.Context, limit int) ([]InteractionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id::text, request_id, operation, provider, input, location_hint,
			rejected_ids, response, match_count, primary_match_id, confidence, processing_ms, created_at
		FROM match_interactions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InteractionRecord
	for rows.Next() {
		var rec InteractionRecord
		var rejectedRaw, respRaw []byte
		var primary sql.NullString
		var confidence sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Operation, &rec.Provider, &rec.Input, &rec.LocationHint,
			&rejectedRaw, &respRaw, &rec.MatchCount, &primary, &confidence, &rec.ProcessingMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rejectedRaw, &rec.RejectedIDs); err != nil {
			return nil, fmt.Errorf("decode rejected ids: %w", err)
		}
		if err := json.Unmarshal(respRaw, &rec.Response); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		rec.PrimaryMatchID = primary.String
		if confidence.Valid {
			c := int(confidence.Int64)
			rec.Confidence = &c
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FeedbackCounts tallies feedback per kind for one match id.
func (s *Store) FeedbackCounts(ctx context.Context, matchID string) (map[matching.FeedbackKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, count(*) FROM match_feedback WHERE match_id = $1 GROUP BY kind`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[matching.FeedbackKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[matching.FeedbackKind(kind)] = n
	}
	return out, rows.Err()
}
