package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/medreq/apiserver/internal/store"
	"github.com/medreq/apiserver/types"
)

// RequestRepository defines persistence operations for medical requests.
type RequestRepository interface {
	Create(ctx context.Context, req types.MedicalRequest) (types.MedicalRequest, error)
	Get(ctx context.Context, id int) (types.MedicalRequest, error)
	List(ctx context.Context, userID, offset, limit int) ([]types.MedicalRequest, int, error)
	UpdateStatus(ctx context.Context, id int, from, to types.RequestStatus) (types.MedicalRequest, error)
}

// EventPublisher receives request lifecycle events.
type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, event types.RequestEvent) error
}

// RequestService encapsulates medical request use-cases.
type RequestService struct {
	repo   RequestRepository
	stager *DocumentStager
	events EventPublisher
	now    func() time.Time
}

// NewRequestService wires the service. events may be nil.
func NewRequestService(repo RequestRepository, stager *DocumentStager, events EventPublisher) *RequestService {
	return &RequestService{
		repo:   repo,
		stager: stager,
		events: events,
		now:    time.Now,
	}
}

// Submit validates the form and persists a new pending request owned by
// owner, carrying the staged documents in order. Every reference must
// have been staged by owner. The staging list is emptied only when the
// request was stored.
func (s *RequestService) Submit(ctx context.Context, form RequestForm, owner *types.User, staging *Staging) (types.MedicalRequest, error) {
	if owner == nil || owner.ID < 1 {
		return types.MedicalRequest{}, ErrUnauthenticated
	}
	if fields := Validate(form); len(fields) > 0 {
		return types.MedicalRequest{}, &ValidationError{Fields: fields}
	}

	documents := staging.References()
	for _, ref := range documents {
		owned, err := s.stager.Owns(ctx, owner.ID, ref)
		if err != nil {
			return types.MedicalRequest{}, err
		}
		if !owned {
			return types.MedicalRequest{}, fmt.Errorf("%w: %s", ErrInvalidDocumentReference, ref)
		}
	}

	form = form.Normalize()
	age, _ := parseAge(form.PatientAge)
	gender := types.Gender(form.PatientGender)
	if gender == "" {
		gender = types.GenderOther
	}

	created, err := s.repo.Create(ctx, types.MedicalRequest{
		PatientName:     form.PatientName,
		PatientAge:      age,
		PatientGender:   gender,
		PatientIDNumber: form.PatientIDNumber,
		Symptoms:        form.Symptoms,
		Diagnosis:       form.Diagnosis,
		Medications:     form.Medications,
		MedicalHistory:  form.MedicalHistory,
		Status:          types.StatusPending,
		UserID:          owner.ID,
		Documents:       documents,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return types.MedicalRequest{}, err
	}
	staging.Reset()

	s.publish(ctx, types.EventRequestSubmitted, created)
	return created, nil
}

// List returns the requests visible to viewer: all of them for the
// manager, the viewer's own otherwise.
func (s *RequestService) List(ctx context.Context, viewer types.User, offset, limit int) ([]types.MedicalRequest, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	userID := viewer.ID
	if viewer.IsManager() {
		userID = 0
	}
	return s.repo.List(ctx, userID, offset, limit)
}

// Get returns one request if viewer owns it or is the manager.
func (s *RequestService) Get(ctx context.Context, viewer types.User, id int) (types.MedicalRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.MedicalRequest{}, err
	}
	if !viewer.IsManager() && req.UserID != viewer.ID {
		return types.MedicalRequest{}, ErrForbidden
	}
	return req, nil
}

// Advance moves a request one step along pending → reviewed → completed.
// Only the manager may advance requests.
func (s *RequestService) Advance(ctx context.Context, actor types.User, id int) (types.MedicalRequest, error) {
	if !actor.IsManager() {
		return types.MedicalRequest{}, ErrForbidden
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.MedicalRequest{}, err
	}
	next, ok := current.Status.Next()
	if !ok {
		return types.MedicalRequest{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, next)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return types.MedicalRequest{}, ErrStaleStatus
		}
		return types.MedicalRequest{}, err
	}

	s.publish(ctx, types.EventRequestStatusChanged, updated)
	return updated, nil
}

// OpenDocument returns the bytes of a document attached to a request
// visible to viewer. Documents are read from the request owner's space.
func (s *RequestService) OpenDocument(ctx context.Context, viewer types.User, id int, ref string) (io.ReadCloser, error) {
	req, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if !req.HasDocument(ref) {
		return nil, store.ErrNotFound
	}
	return s.stager.Open(ctx, req.UserID, ref)
}

// publish is best effort: the request is already stored.
func (s *RequestService) publish(ctx context.Context, eventType types.EventType, req types.MedicalRequest) {
	if s.events == nil {
		return
	}
	event := types.RequestEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		RequestID:  req.ID,
		UserID:     req.UserID,
		Status:     req.Status,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishRequestEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish request event",
			"event_type", eventType,
			"request_id", req.ID,
			"error", err,
		)
	}
}
