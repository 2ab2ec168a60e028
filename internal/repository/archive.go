package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/consultly/call-server-go/internal/model"
)

// RequestArchiveRepository keeps the durable trail of resolved call
// requests. Only terminal requests are written; the live pending set
// stays in memory.
type RequestArchiveRepository interface {
	Insert(ctx context.Context, req model.IncomingCallRequest) error
	FindByID(ctx context.Context, id string) (*model.IncomingCallRequest, error)
	ListByProvider(ctx context.Context, providerRef string, limit, offset int) ([]model.IncomingCallRequest, error)
	WithTx(tx *sqlx.Tx) RequestArchiveRepository
}

type archiveRepo struct {
	db recordDB
}

func NewRequestArchiveRepository(db *sqlx.DB) RequestArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) WithTx(tx *sqlx.Tx) RequestArchiveRepository {
	return &archiveRepo{db: tx}
}

func (r *archiveRepo) Insert(ctx context.Context, req model.IncomingCallRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO request_archive (
			id, requester_ref, provider_ref, call_kind, media_channel_name,
			duration_seconds, status, created_at, expires_at, resolved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.RequesterRef, req.ProviderRef, req.CallKind, req.MediaChannelName,
		req.DurationSeconds, req.Status, req.CreatedAt, req.ExpiresAt, req.ResolvedAt)
	return err
}

func (r *archiveRepo) FindByID(ctx context.Context, id string) (*model.IncomingCallRequest, error) {
	var req model.IncomingCallRequest
	err := r.db.GetContext(ctx, &req, `
		SELECT * FROM request_archive WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *archiveRepo) ListByProvider(ctx context.Context, providerRef string, limit, offset int) ([]model.IncomingCallRequest, error) {
	requests := []model.IncomingCallRequest{}
	err := r.db.SelectContext(ctx, &requests, `
		SELECT * FROM request_archive
		WHERE provider_ref = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, providerRef, limit, offset)
	if err != nil {
		return nil, err
	}
	return requests, nil
}
