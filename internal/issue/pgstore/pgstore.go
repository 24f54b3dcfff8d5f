// Package pgstore provides a PostgreSQL implementation of issue.Store.
// Conditional updates use a version column so concurrent ingests and
// scheduler ticks on the same fingerprint resolve with exactly one winner.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/herald/internal/issue"
)

var tracer = otel.Tracer("github.com/linnemanlabs/herald/internal/issue/pgstore")

//go:embed schema.sql
var schema string

// Store persists issues in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const issueColumns = `fingerprint, id, source, state, first_seen, last_seen, opened_at,
	occurrence_count, owners, last_notified_at, notify_count, escalation_level, payload, reason, version`

// Get retrieves an issue by fingerprint.
func (s *Store) Get(ctx context.Context, fp string) (*issue.Issue, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + issueColumns + ` FROM issues WHERE fingerprint = $1`
	iss, err := scanIssueRow(s.pool.QueryRow(ctx, query, fp))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if iss == nil {
		return nil, false, nil
	}
	return iss, true, nil
}

// Create inserts a new issue at version 1. A fingerprint collision means a
// concurrent creator won the race.
func (s *Store) Create(ctx context.Context, iss *issue.Issue) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	owners, payload, err := marshalJSONFields(iss)
	if err != nil {
		return err
	}

	query := `INSERT INTO issues (` + issueColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (fingerprint) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		iss.Fingerprint, iss.ID, iss.Source, string(iss.State),
		iss.FirstSeen, iss.LastSeen, iss.OpenedAt, iss.OccurrenceCount,
		owners, nullableTime(iss.LastNotifiedAt), iss.NotifyCount, iss.EscalationLevel,
		payload, iss.Reason, int64(1),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return issue.ErrDuplicateFingerprint
	}
	iss.Version = 1
	return nil
}

// Update writes iss conditionally on its version and bumps it.
func (s *Store) Update(ctx context.Context, iss *issue.Issue) error {
	return s.write(ctx, "pgstore.Update", iss, iss.Version)
}

// Replace swaps the stored row for fresh, conditional on oldVersion.
func (s *Store) Replace(ctx context.Context, fresh *issue.Issue, oldVersion int64) error {
	return s.write(ctx, "pgstore.Replace", fresh, oldVersion)
}

func (s *Store) write(ctx context.Context, spanName string, iss *issue.Issue, expectVersion int64) error {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	owners, payload, err := marshalJSONFields(iss)
	if err != nil {
		return err
	}

	query := `UPDATE issues SET
		id = $2, source = $3, state = $4, first_seen = $5, last_seen = $6,
		opened_at = $7, occurrence_count = $8, owners = $9, last_notified_at = $10,
		notify_count = $11, escalation_level = $12, payload = $13, reason = $14,
		version = version + 1
		WHERE fingerprint = $1 AND version = $15`

	tag, err := s.pool.Exec(ctx, query,
		iss.Fingerprint, iss.ID, iss.Source, string(iss.State),
		iss.FirstSeen, iss.LastSeen, iss.OpenedAt, iss.OccurrenceCount,
		owners, nullableTime(iss.LastNotifiedAt), iss.NotifyCount, iss.EscalationLevel,
		payload, iss.Reason, expectVersion,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return issue.ErrVersionConflict
	}
	iss.Version = expectVersion + 1
	return nil
}

// ListOpen returns all non-terminal issues in unspecified order.
func (s *Store) ListOpen(ctx context.Context) ([]*issue.Issue, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListOpen", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + issueColumns + ` FROM issues WHERE state NOT IN ('resolved', 'ignored')`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query open issues: %w", err)
	}
	defer rows.Close()

	var out []*issue.Issue
	for rows.Next() {
		iss, err := scanIssueRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, iss)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate open issues: %w", err)
	}
	return out, nil
}

func marshalJSONFields(iss *issue.Issue) (owners, payload []byte, err error) {
	if iss.Owners != nil {
		owners, err = json.Marshal(iss.Owners)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal owners: %w", err)
		}
	}
	if iss.Payload != nil {
		payload, err = json.Marshal(iss.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	return owners, payload, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// scanIssueRow scans a single row into an issue. Returns (nil, nil) when no
// row is found.
func scanIssueRow(row pgx.Row) (*issue.Issue, error) {
	var (
		iss            issue.Issue
		state          string
		ownersJSON     []byte
		payloadJSON    []byte
		lastNotifiedAt *time.Time
	)

	err := row.Scan(
		&iss.Fingerprint, &iss.ID, &iss.Source, &state,
		&iss.FirstSeen, &iss.LastSeen, &iss.OpenedAt, &iss.OccurrenceCount,
		&ownersJSON, &lastNotifiedAt, &iss.NotifyCount, &iss.EscalationLevel,
		&payloadJSON, &iss.Reason, &iss.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan issue: %w", err)
	}

	iss.State = issue.State(state)
	if lastNotifiedAt != nil {
		iss.LastNotifiedAt = *lastNotifiedAt
	}
	if ownersJSON != nil {
		if err := json.Unmarshal(ownersJSON, &iss.Owners); err != nil {
			return nil, fmt.Errorf("unmarshal owners: %w", err)
		}
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &iss.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &iss, nil
}
