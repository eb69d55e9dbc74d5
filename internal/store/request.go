package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/medreq/apiserver/types"
)

const requestColumns = `id, patient_name, patient_age, patient_gender, patient_id_number,
		symptoms, diagnosis, medications, medical_history, status, user_id,
		documents, created_at, updated_at`

// RequestRepository handles persistence for medical requests.
type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (types.MedicalRequest, error) {
	var req types.MedicalRequest
	err := row.Scan(
		&req.ID,
		&req.PatientName,
		&req.PatientAge,
		&req.PatientGender,
		&req.PatientIDNumber,
		&req.Symptoms,
		&req.Diagnosis,
		&req.Medications,
		&req.MedicalHistory,
		&req.Status,
		&req.UserID,
		pq.Array(&req.Documents),
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return types.MedicalRequest{}, err
	}
	if !req.Status.Valid() {
		return types.MedicalRequest{}, fmt.Errorf("request %d has unknown status %q", req.ID, req.Status)
	}
	return req, nil
}

// Create inserts a request as a single row, documents included.
func (r *RequestRepository) Create(ctx context.Context, req types.MedicalRequest) (types.MedicalRequest, error) {
	if !req.Status.Valid() {
		return types.MedicalRequest{}, fmt.Errorf("unknown request status %q", req.Status)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt
	if req.Documents == nil {
		req.Documents = []string{}
	}

	const query = `
		INSERT INTO medical_requests (
			patient_name, patient_age, patient_gender, patient_id_number,
			symptoms, diagnosis, medications, medical_history, status, user_id,
			documents, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		req.PatientName,
		req.PatientAge,
		req.PatientGender,
		req.PatientIDNumber,
		req.Symptoms,
		req.Diagnosis,
		req.Medications,
		req.MedicalHistory,
		req.Status,
		req.UserID,
		pq.Array(req.Documents),
		req.CreatedAt,
		req.UpdatedAt,
	).Scan(&req.ID); err != nil {
		return types.MedicalRequest{}, err
	}

	return req, nil
}

func (r *RequestRepository) Get(ctx context.Context, id int) (types.MedicalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM medical_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MedicalRequest{}, ErrNotFound
		}
		return types.MedicalRequest{}, err
	}
	return req, nil
}

// List returns requests newest first. A userID of zero lists requests of
// every user.
func (r *RequestRepository) List(ctx context.Context, userID, offset, limit int) ([]types.MedicalRequest, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM medical_requests WHERE ($1 = 0 OR user_id = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + requestColumns + `
		FROM medical_requests
		WHERE ($1 = 0 OR user_id = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := make([]types.MedicalRequest, 0, limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// UpdateStatus moves a request from one status to another. The update
// only applies while the stored status still equals from.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id int, from, to types.RequestStatus) (types.MedicalRequest, error) {
	query := `
		UPDATE medical_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, to, time.Now().UTC(), id, from))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.MedicalRequest{}, err
	}

	if _, err := r.Get(ctx, id); err != nil {
		return types.MedicalRequest{}, err
	}
	return types.MedicalRequest{}, ErrStatusConflict
}
