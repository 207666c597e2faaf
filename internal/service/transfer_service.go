package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/dto"
	"github.com/noah-isme/staff-transfer-api/internal/models"
	"github.com/noah-isme/staff-transfer-api/internal/repository"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
	"github.com/noah-isme/staff-transfer-api/pkg/logger"
)

const dateLayout = "2006-01-02"

type transferStore interface {
	Create(ctx context.Context, transfer *models.TransferRequest, first models.TransferHistoryEntry) error
	GetByID(ctx context.Context, id string) (*models.TransferRequest, error)
	UpdateStatus(ctx context.Context, params repository.UpdateTransferStatusParams) (*models.TransferRequest, error)
	MarkEffectApplied(ctx context.Context, id string, at time.Time) (bool, error)
	Iterate(ctx context.Context, filter models.TransferFilter) iter.Seq2[models.TransferRequest, error]
}

type transferEventPublisher interface {
	Publish(ctx context.Context, event models.TransferEvent)
}

// TransferService runs the transfer approval workflow.
type TransferService struct {
	repo       transferStore
	authorizer *TransferAuthorizer
	effect     TransferEffect
	events     transferEventPublisher
	locker     TransferLocker
	metrics    *MetricsService
	validator  *validator.Validate
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

// TransferServiceOption configures the service.
type TransferServiceOption func(*TransferService)

// WithTransferEffect sets the side effect applied on full approval.
func WithTransferEffect(effect TransferEffect) TransferServiceOption {
	return func(s *TransferService) {
		if effect != nil {
			s.effect = effect
		}
	}
}

// WithTransferEvents sets the event publisher.
func WithTransferEvents(events transferEventPublisher) TransferServiceOption {
	return func(s *TransferService) {
		if events != nil {
			s.events = events
		}
	}
}

// WithTransferLocker overrides the per-request locker.
func WithTransferLocker(locker TransferLocker) TransferServiceOption {
	return func(s *TransferService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithTransferMetrics attaches Prometheus instrumentation.
func WithTransferMetrics(metrics *MetricsService) TransferServiceOption {
	return func(s *TransferService) {
		s.metrics = metrics
	}
}

// WithTransferClock overrides the time source.
func WithTransferClock(now func() time.Time) TransferServiceOption {
	return func(s *TransferService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTransferService constructs the service with defaults.
func NewTransferService(repo transferStore, authorizer *TransferAuthorizer, validate *validator.Validate, logger *zap.Logger, opts ...TransferServiceOption) *TransferService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &TransferService{
		repo:       repo,
		authorizer: authorizer,
		effect: TransferEffectFunc(func(context.Context, *models.TransferRequest) error {
			return nil
		}),
		locker:    NewLocalTransferLocker(),
		validator: validate,
		tracer:    otel.Tracer("github.com/noah-isme/staff-transfer-api/internal/service"),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.validator.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = svc.validator.RegisterValidation("transfer_type", func(fl validator.FieldLevel) bool {
		return models.TransferType(strings.ToUpper(fl.Field().String())).Valid()
	})
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create submits a new transfer request on behalf of an employee.
func (s *TransferService) Create(ctx context.Context, actor models.Actor, req dto.CreateTransferRequest) (transfer *models.TransferRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "TransferService.Create")
	defer s.finish(span, "create", time.Now(), &err)

	transfer, err = s.buildTransfer(req)
	if err != nil {
		return nil, err
	}
	if err = s.authorizer.AuthorizeCreate(actor, transfer.FromOffice); err != nil {
		return nil, err
	}
	transfer.RequestedBy = actor.UserID
	span.SetAttributes(attribute.String("transfer.employee_ref", transfer.EmployeeRef))

	first := models.TransferHistoryEntry{
		ActorRef:  actor.UserID,
		ActorRole: actor.Role,
		Comment:   transfer.Reason,
	}
	if err = s.repo.Create(ctx, transfer, first); err != nil {
		if errors.Is(err, repository.ErrActiveTransferExists) {
			return nil, appErrors.WithDetails(appErrors.ErrDuplicateActiveRequest, map[string]interface{}{"employeeRef": transfer.EmployeeRef})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create transfer request")
	}
	span.SetAttributes(attribute.String("transfer.id", transfer.ID))

	logger.FromContext(ctx, s.logger).Info("transfer request created",
		zap.String("transfer_id", transfer.ID),
		zap.String("employee_ref", transfer.EmployeeRef),
		zap.String("from_office", transfer.FromOffice),
		zap.String("to_office", transfer.ToOffice),
	)
	s.publish(ctx, transfer, models.TransferEventCreated, "", "", actor, transfer.Reason, "")
	return transfer, nil
}

// Respond records the receiving office's accept or reject decision.
func (s *TransferService) Respond(ctx context.Context, actor models.Actor, req dto.TransferDecisionRequest) (*models.TransferRequest, error) {
	if err := s.validateDecision(req, models.TransferActionAccept); err != nil {
		return nil, err
	}
	return s.Transition(ctx, actor, req.RequestID, req.Action, req.Comment)
}

// Approve records a zonal or district authority's approve or reject decision.
func (s *TransferService) Approve(ctx context.Context, actor models.Actor, req dto.TransferDecisionRequest) (*models.TransferRequest, error) {
	if err := s.validateDecision(req, models.TransferActionApprove); err != nil {
		return nil, err
	}
	return s.Transition(ctx, actor, req.RequestID, req.Action, req.Comment)
}

func (s *TransferService) validateDecision(req dto.TransferDecisionRequest, positive models.TransferAction) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err)
	}
	if req.Action != positive && req.Action != models.TransferActionReject {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action must be %s or reject", positive))
	}
	return nil
}

// Transition applies action to the request on behalf of actor.
//
// Authorization runs before transition validity, which runs before the
// rejection comment check. On entering FULLY_APPROVED the
// employee office is updated; if that fails the committed request is returned
// together with a SIDE_EFFECT_FAILED error.
func (s *TransferService) Transition(ctx context.Context, actor models.Actor, id string, action models.TransferAction, comment string) (transfer *models.TransferRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "TransferService.Transition", trace.WithAttributes(
		attribute.String("transfer.id", id),
		attribute.String("transfer.action", string(action)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer s.finish(span, "transition", time.Now(), &err)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requestId is required")
	}
	note := optionalString(comment)

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock transfer request")
	}
	defer unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.authorizer.AuthorizeDecision(ctx, actor, current); err != nil {
		return nil, err
	}
	next, err := NextTransferStatus(current.Status, action, actor.Role)
	if err != nil {
		return nil, err
	}
	if action == models.TransferActionReject && note == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment is required when rejecting")
	}

	updated, err := s.repo.UpdateStatus(ctx, repository.UpdateTransferStatusParams{
		ID:              current.ID,
		ExpectedStatus:  current.Status,
		ExpectedVersion: current.Version,
		Status:          next,
		Entry: models.TransferHistoryEntry{
			ActorRef:  actor.UserID,
			ActorRole: actor.Role,
			Comment:   note,
		},
	})
	if err != nil {
		if errors.Is(err, repository.ErrTransferStale) {
			return nil, s.staleTransition(ctx, current, action)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update transfer request")
	}

	s.metrics.RecordTransition(current.Status, next, action)
	logger.FromContext(ctx, s.logger).Info("transfer request transitioned",
		zap.String("transfer_id", updated.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)),
		zap.String("actor", actor.UserID),
	)
	s.publish(ctx, updated, models.TransferEventTransitioned, action, current.Status, actor, note, "")

	if next == models.TransferStatusFullyApproved {
		return s.applyEffect(ctx, actor, updated)
	}
	return updated, nil
}

// Get returns a request with its history when the actor may view it.
func (s *TransferService) Get(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error) {
	transfer, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.AuthorizeView(ctx, actor, transfer); err != nil {
		return nil, err
	}
	return transfer, nil
}

// Reconcile re-applies a missing employee office update on a fully approved
// request. It refuses when a later approved transfer for the employee exists.
func (s *TransferService) Reconcile(ctx context.Context, actor models.Actor, id string) (transfer *models.TransferRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "TransferService.Reconcile", trace.WithAttributes(attribute.String("transfer.id", id)))
	defer s.finish(span, "reconcile", time.Now(), &err)

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock transfer request")
	}
	defer unlock()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.authorizer.AuthorizeReconcile(ctx, actor, current); err != nil {
		return nil, err
	}
	if current.Status != models.TransferStatusFullyApproved {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidTransition, "only fully approved requests update the employee office"),
			map[string]interface{}{"currentStatus": current.Status},
		)
	}
	if current.EffectAppliedAt != nil {
		return current, nil
	}
	newer, err := s.laterApproval(ctx, current)
	if err != nil {
		return nil, err
	}
	if newer != nil {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidTransition, "a later approved transfer already placed the employee"),
			map[string]interface{}{"currentStatus": current.Status, "supersededBy": newer.ID},
		)
	}
	return s.applyEffect(ctx, actor, current)
}

// laterApproval finds a FULLY_APPROVED request for the same employee created
// after current. Applying current's office on top of it would roll the employee back.
func (s *TransferService) laterApproval(ctx context.Context, current *models.TransferRequest) (*models.TransferRequest, error) {
	filter := models.TransferFilter{
		EmployeeRef: current.EmployeeRef,
		Statuses:    []models.TransferStatus{models.TransferStatusFullyApproved},
	}
	for candidate, err := range s.repo.Iterate(ctx, filter) {
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check later transfers")
		}
		if candidate.ID != current.ID && candidate.CreatedAt.After(current.CreatedAt) {
			return &candidate, nil
		}
	}
	return nil, nil
}

// ListOutgoing streams requests originating from officeID.
func (s *TransferService) ListOutgoing(ctx context.Context, actor models.Actor, officeID string, limit, offset int) (iter.Seq2[models.TransferRequest, error], error) {
	office, err := s.resolveOffice(actor, officeID)
	if err != nil {
		return nil, err
	}
	return s.repo.Iterate(ctx, models.TransferFilter{FromOffice: office, Limit: limit, Offset: offset}), nil
}

// ListIncoming streams requests addressed to officeID that await its decision.
func (s *TransferService) ListIncoming(ctx context.Context, actor models.Actor, officeID string, limit, offset int) (iter.Seq2[models.TransferRequest, error], error) {
	office, err := s.resolveOffice(actor, officeID)
	if err != nil {
		return nil, err
	}
	return s.repo.Iterate(ctx, models.TransferFilter{
		ToOffice: office,
		Statuses: []models.TransferStatus{models.TransferStatusPending},
		Limit:    limit,
		Offset:   offset,
	}), nil
}

// ListQueue streams the requests waiting at the actor's approval stage.
func (s *TransferService) ListQueue(ctx context.Context, actor models.Actor, limit, offset int) (iter.Seq2[models.TransferRequest, error], error) {
	filter, err := s.authorizer.QueueFilter(actor)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	filter.Offset = offset
	return s.repo.Iterate(ctx, filter), nil
}

// List materialises one of the list views.
func (s *TransferService) List(ctx context.Context, actor models.Actor, query dto.TransferListQuery) ([]models.TransferRequest, error) {
	var (
		seq iter.Seq2[models.TransferRequest, error]
		err error
	)
	switch query.Scope {
	case dto.TransferScopeOutgoing:
		seq, err = s.ListOutgoing(ctx, actor, query.OfficeID, query.Limit, query.Offset)
	case dto.TransferScopeIncoming, "":
		seq, err = s.ListIncoming(ctx, actor, query.OfficeID, query.Limit, query.Offset)
	case dto.TransferScopeQueue:
		seq, err = s.ListQueue(ctx, actor, query.Limit, query.Offset)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "scope must be incoming, outgoing or queue")
	}
	if err != nil {
		return nil, err
	}

	items := make([]models.TransferRequest, 0)
	for transfer, err := range seq {
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transfer requests")
		}
		items = append(items, transfer)
	}
	return items, nil
}

func (s *TransferService) buildTransfer(req dto.CreateTransferRequest) (*models.TransferRequest, error) {
	req.EmployeeRef = strings.TrimSpace(req.EmployeeRef)
	req.FromOffice = strings.TrimSpace(req.FromOffice)
	req.ToOffice = strings.TrimSpace(req.ToOffice)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	transferDate, err := time.Parse(dateLayout, req.TransferDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transferDate must use YYYY-MM-DD")
	}
	transfer := &models.TransferRequest{
		EmployeeRef:      req.EmployeeRef,
		FromOffice:       req.FromOffice,
		ToOffice:         req.ToOffice,
		TransferType:     models.TransferType(strings.ToUpper(req.TransferType)),
		TransferDate:     transferDate,
		Reason:           optionalString(req.Reason),
		OrderNumber:      optionalString(req.OrderNumber),
		OrderDocumentRef: optionalString(req.OrderDocumentRef),
	}
	if req.OrderDate != "" {
		orderDate, err := time.Parse(dateLayout, req.OrderDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "orderDate must use YYYY-MM-DD")
		}
		transfer.OrderDate = &orderDate
	}
	return transfer, nil
}

func (s *TransferService) load(ctx context.Context, id string) (*models.TransferRequest, error) {
	transfer, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrNotFound, map[string]interface{}{"requestId": id})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transfer request")
	}
	return transfer, nil
}

// staleTransition reports a lost race using the latest stored status.
func (s *TransferService) staleTransition(ctx context.Context, previous *models.TransferRequest, action models.TransferAction) error {
	status := previous.Status
	if latest, err := s.repo.GetByID(ctx, previous.ID); err == nil {
		status = latest.Status
	}
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request changed concurrently and is now %s", status)),
		map[string]interface{}{"currentStatus": status, "action": action},
	)
}

func (s *TransferService) applyEffect(ctx context.Context, actor models.Actor, transfer *models.TransferRequest) (*models.TransferRequest, error) {
	log := logger.FromContext(ctx, s.logger).With(zap.String("transfer_id", transfer.ID))
	details := map[string]interface{}{"requestId": transfer.ID, "employeeRef": transfer.EmployeeRef}

	if err := s.effect.Apply(ctx, transfer); err != nil {
		s.metrics.RecordSideEffectFailure()
		log.Error("employee office update failed", zap.Error(err))
		s.publish(ctx, transfer, models.TransferEventEffectFailed, "", "", actor, nil, err.Error())
		return transfer, appErrors.WithDetails(
			appErrors.Wrap(err, appErrors.ErrSideEffect.Code, appErrors.ErrSideEffect.Status, appErrors.ErrSideEffect.Message),
			details,
		)
	}

	at := s.now()
	marked, err := s.repo.MarkEffectApplied(ctx, transfer.ID, at)
	if err != nil {
		s.metrics.RecordSideEffectFailure()
		log.Error("recording employee office update failed", zap.Error(err))
		return transfer, appErrors.WithDetails(
			appErrors.Wrap(err, appErrors.ErrSideEffect.Code, appErrors.ErrSideEffect.Status, "employee office updated but not recorded; reconcile the request"),
			details,
		)
	}
	if marked {
		transfer.EffectAppliedAt = &at
		s.publish(ctx, transfer, models.TransferEventEffectApplied, "", "", actor, nil, "")
	}
	return transfer, nil
}

func (s *TransferService) resolveOffice(actor models.Actor, officeID string) (string, error) {
	officeID = strings.TrimSpace(officeID)
	switch actor.Role {
	case models.RoleSuperAdmin:
		if officeID == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "officeId is required")
		}
		return officeID, nil
	case models.RoleOfficeAdmin:
		if actor.OfficeID == "" {
			return "", forbidden("actor has no office", nil)
		}
		if officeID != "" && officeID != actor.OfficeID {
			return "", forbidden("cannot list another office's transfers", nil)
		}
		return actor.OfficeID, nil
	default:
		return "", forbidden("office views are available to office admins", nil)
	}
}

func (s *TransferService) publish(ctx context.Context, transfer *models.TransferRequest, eventType models.TransferEventType, action models.TransferAction, from models.TransferStatus, actor models.Actor, comment *string, failure string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, models.TransferEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		TransferID:  transfer.ID,
		EmployeeRef: transfer.EmployeeRef,
		FromOffice:  transfer.FromOffice,
		ToOffice:    transfer.ToOffice,
		Action:      action,
		FromStatus:  from,
		ToStatus:    transfer.Status,
		ActorRef:    actor.UserID,
		ActorRole:   actor.Role,
		Comment:     comment,
		Error:       failure,
		OccurredAt:  s.now(),
	})
}

func (s *TransferService) finish(span trace.Span, operation string, start time.Time, errp *error) {
	s.metrics.ObserveOperation(operation, time.Since(start))
	if err := *errp; err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Status < http.StatusInternalServerError {
			s.metrics.RecordRejection(appErr.Code)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Code)
	}
	span.End()
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	fields := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	message := "invalid transfer payload"
	if fields["toOffice"] == "nefield" {
		message = "toOffice must differ from fromOffice"
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, message), map[string]interface{}{"fields": fields})
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
