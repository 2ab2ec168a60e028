package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consultly/call-server-go/internal/model"
)

type SessionRecordRepository interface {
	// Upsert persists a finalized session keyed by session id. Retried
	// writes for the same session overwrite with identical data instead
	// of duplicating the billing record.
	Upsert(ctx context.Context, rec model.SessionRecord) error
	FindBySessionID(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	List(ctx context.Context, limit, offset int) ([]model.SessionRecord, error)
	ListByParticipant(ctx context.Context, participantRef string, limit, offset int) ([]model.SessionRecord, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRecordRepository
}

// recordDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type recordDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type recordRepo struct {
	db recordDB
}

func NewSessionRecordRepository(db *sqlx.DB) SessionRecordRepository {
	return &recordRepo{db: db}
}

func (r *recordRepo) WithTx(tx *sqlx.Tx) SessionRecordRepository {
	return &recordRepo{db: tx}
}

func (r *recordRepo) Upsert(ctx context.Context, rec model.SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_records (
			session_id, requester_ref, provider_ref, call_kind, status,
			selected_duration_seconds, elapsed_seconds, final_cost_minor,
			currency, end_reason, started_at, ended_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			elapsed_seconds = EXCLUDED.elapsed_seconds,
			final_cost_minor = EXCLUDED.final_cost_minor,
			end_reason = EXCLUDED.end_reason,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`, rec.SessionID, rec.RequesterRef, rec.ProviderRef, rec.CallKind, rec.Status,
		rec.SelectedDurationSeconds, rec.ElapsedSeconds, rec.FinalCostMinor,
		rec.Currency, rec.EndReason, rec.StartedAt, rec.EndedAt, time.Now())
	return err
}

func (r *recordRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM session_records WHERE session_id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordRepo) List(ctx context.Context, limit, offset int) ([]model.SessionRecord, error) {
	records := []model.SessionRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM session_records
		ORDER BY ended_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *recordRepo) ListByParticipant(ctx context.Context, participantRef string, limit, offset int) ([]model.SessionRecord, error) {
	records := []model.SessionRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM session_records
		WHERE requester_ref = $1 OR provider_ref = $1
		ORDER BY ended_at DESC
		LIMIT $2 OFFSET $3
	`, participantRef, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}
