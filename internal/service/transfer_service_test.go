package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/dto"
	"github.com/noah-isme/staff-transfer-api/internal/models"
	"github.com/noah-isme/staff-transfer-api/internal/repository"
	"github.com/noah-isme/staff-transfer-api/pkg/config"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

type memoryTransferStore struct {
	mu      sync.Mutex
	items   map[string]*models.TransferRequest
	offices map[string]*models.Office
	seq     int
	base    time.Time

	markCalls int
}

func newMemoryTransferStore(offices map[string]*models.Office) *memoryTransferStore {
	return &memoryTransferStore{
		items:   make(map[string]*models.TransferRequest),
		offices: offices,
		base:    time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func cloneTransfer(t *models.TransferRequest) *models.TransferRequest {
	c := *t
	c.History = append([]models.TransferHistoryEntry(nil), t.History...)
	return &c
}

func (m *memoryTransferStore) Create(_ context.Context, transfer *models.TransferRequest, first models.TransferHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.EmployeeRef == transfer.EmployeeRef && existing.Active() {
			return repository.ErrActiveTransferExists
		}
	}
	m.seq++
	now := m.base.Add(time.Duration(m.seq) * time.Minute)
	transfer.ID = fmt.Sprintf("tr-%d", m.seq)
	transfer.Status = models.TransferStatusPending
	transfer.Version = 1
	transfer.CreatedAt = now
	transfer.UpdatedAt = now
	first.TransferID = transfer.ID
	first.Seq = 1
	first.Status = models.TransferStatusPending
	first.CreatedAt = now
	transfer.History = []models.TransferHistoryEntry{first}
	m.items[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (m *memoryTransferStore) GetByID(_ context.Context, id string) (*models.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneTransfer(item), nil
}

func (m *memoryTransferStore) UpdateStatus(_ context.Context, params repository.UpdateTransferStatusParams) (*models.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[params.ID]
	if !ok || item.Status != params.ExpectedStatus || item.Version != params.ExpectedVersion {
		return nil, repository.ErrTransferStale
	}
	item.Status = params.Status
	item.Version++
	item.UpdatedAt = item.UpdatedAt.Add(time.Second)
	entry := params.Entry
	entry.TransferID = item.ID
	entry.Seq = item.Version
	entry.Status = item.Status
	entry.CreatedAt = item.UpdatedAt
	item.History = append(item.History, entry)
	return cloneTransfer(item), nil
}

func (m *memoryTransferStore) MarkEffectApplied(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	item, ok := m.items[id]
	if !ok || item.Status != models.TransferStatusFullyApproved || item.EffectAppliedAt != nil {
		return false, nil
	}
	item.EffectAppliedAt = &at
	return true, nil
}

func (m *memoryTransferStore) Iterate(_ context.Context, filter models.TransferFilter) iter.Seq2[models.TransferRequest, error] {
	m.mu.Lock()
	matched := make([]models.TransferRequest, 0)
	for _, item := range m.items {
		if m.matches(item, filter) {
			c := cloneTransfer(item)
			c.History = nil
			matched = append(matched, *c)
		}
	}
	m.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	return func(yield func(models.TransferRequest, error) bool) {
		for _, item := range matched {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (m *memoryTransferStore) matches(item *models.TransferRequest, filter models.TransferFilter) bool {
	if filter.EmployeeRef != "" && item.EmployeeRef != filter.EmployeeRef {
		return false
	}
	if filter.FromOffice != "" && item.FromOffice != filter.FromOffice {
		return false
	}
	if filter.ToOffice != "" && item.ToOffice != filter.ToOffice {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if item.Status == status {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	policy := m.offices[item.ToOffice]
	if filter.ScopeByFromOffice {
		policy = m.offices[item.FromOffice]
	}
	if filter.ZoneID != "" && (policy == nil || policy.ZoneID != filter.ZoneID) {
		return false
	}
	if filter.DistrictID != "" && (policy == nil || policy.DistrictID != filter.DistrictID) {
		return false
	}
	return true
}

type stubOfficeLookup map[string]*models.Office

func (s stubOfficeLookup) Office(_ context.Context, id string) (*models.Office, error) {
	office, ok := s[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "office not found")
	}
	return office, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.TransferEvent
}

func (r *recordingEvents) Publish(_ context.Context, event models.TransferEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) types() []models.TransferEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TransferEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type countingEffect struct {
	mu      sync.Mutex
	calls   int
	applied map[string]string
	fail    error
}

func (e *countingEffect) Apply(_ context.Context, transfer *models.TransferRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail != nil {
		return e.fail
	}
	if e.applied == nil {
		e.applied = make(map[string]string)
	}
	e.applied[transfer.EmployeeRef] = transfer.ToOffice
	return nil
}

type noLocker struct{}

func (noLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

var testOffices = map[string]*models.Office{
	"office-a": {ID: "office-a", Name: "North School", ZoneID: "zone-1", DistrictID: "district-1"},
	"office-b": {ID: "office-b", Name: "Central School", ZoneID: "zone-2", DistrictID: "district-1"},
	"office-c": {ID: "office-c", Name: "Hill School", ZoneID: "zone-3", DistrictID: "district-2"},
}

var (
	adminA    = models.Actor{UserID: "admin-a", Role: models.RoleOfficeAdmin, OfficeID: "office-a"}
	adminB    = models.Actor{UserID: "admin-b", Role: models.RoleOfficeAdmin, OfficeID: "office-b"}
	adminC    = models.Actor{UserID: "admin-c", Role: models.RoleOfficeAdmin, OfficeID: "office-c"}
	zonal1    = models.Actor{UserID: "zonal-1", Role: models.RoleZonalAuthority, ZoneID: "zone-1"}
	zonal2    = models.Actor{UserID: "zonal-2", Role: models.RoleZonalAuthority, ZoneID: "zone-2"}
	district1 = models.Actor{UserID: "district-1", Role: models.RoleDistrictAuthority, DistrictID: "district-1"}
	district2 = models.Actor{UserID: "district-2", Role: models.RoleDistrictAuthority, DistrictID: "district-2"}
	root      = models.Actor{UserID: "root", Role: models.RoleSuperAdmin}
)

type transferFixture struct {
	svc    *TransferService
	store  *memoryTransferStore
	effect *countingEffect
	events *recordingEvents
}

func newTransferFixture(t *testing.T, scope string, opts ...TransferServiceOption) *transferFixture {
	t.Helper()
	store := newMemoryTransferStore(testOffices)
	effect := &countingEffect{}
	events := &recordingEvents{}
	authorizer := NewTransferAuthorizer(stubOfficeLookup(testOffices), scope)
	all := append([]TransferServiceOption{
		WithTransferEffect(effect),
		WithTransferEvents(events),
		WithTransferMetrics(NewMetricsService()),
	}, opts...)
	svc := NewTransferService(store, authorizer, nil, zap.NewNop(), all...)
	return &transferFixture{svc: svc, store: store, effect: effect, events: events}
}

func createRequest(employee, from, to string) dto.CreateTransferRequest {
	return dto.CreateTransferRequest{
		EmployeeRef:  employee,
		FromOffice:   from,
		ToOffice:     to,
		TransferType: "TRANSFER",
		TransferDate: "2025-02-01",
		Reason:       "family relocation",
	}
}

func decision(id string, action models.TransferAction, comment string) dto.TransferDecisionRequest {
	return dto.TransferDecisionRequest{RequestID: id, Action: action, Comment: comment}
}

func assertHistoryConsistent(t *testing.T, transfer *models.TransferRequest) {
	t.Helper()
	require.NotEmpty(t, transfer.History)
	for i, entry := range transfer.History {
		assert.Equal(t, i+1, entry.Seq)
		if i > 0 {
			assert.False(t, entry.CreatedAt.Before(transfer.History[i-1].CreatedAt))
		}
	}
	assert.Equal(t, transfer.Status, transfer.History[len(transfer.History)-1].Status)
}

func TestTransferServiceFullApprovalScenario(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E1", "office-a", "office-b"))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusPending, created.Status)
	assert.Equal(t, "admin-a", created.RequestedBy)
	assertHistoryConsistent(t, created)

	accepted, err := f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusReceivingApproved, accepted.Status)

	zonal, err := f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, "ok"))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusZonalApproved, zonal.Status)

	final, err := f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFullyApproved, final.Status)
	require.NotNil(t, final.EffectAppliedAt)
	assert.Len(t, final.History, 4)
	assertHistoryConsistent(t, final)
	assert.Equal(t, "office-b", f.effect.applied["E1"])

	_, err = f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionApprove, ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, 1, f.effect.calls)

	assert.Equal(t, []models.TransferEventType{
		models.TransferEventCreated,
		models.TransferEventTransitioned,
		models.TransferEventTransitioned,
		models.TransferEventTransitioned,
		models.TransferEventEffectApplied,
	}, f.events.types())
}

func TestTransferServiceDistrictRejection(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E2", "office-a", "office-b"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionReject, "   "))
	require.True(t, errors.Is(err, appErrors.ErrValidation), "reject without comment must fail validation")

	rejected, err := f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionReject, "budget freeze"))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFinallyRejected, rejected.Status)
	last := rejected.History[len(rejected.History)-1]
	require.NotNil(t, last.Comment)
	assert.Equal(t, "budget freeze", *last.Comment)
	assert.Equal(t, models.RoleDistrictAuthority, last.ActorRole)
	assert.Equal(t, 0, f.effect.calls)

	for _, action := range []models.TransferAction{models.TransferActionApprove, models.TransferActionReject} {
		_, err = f.svc.Approve(ctx, district1, decision(created.ID, action, "again"))
		assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	}
}

func TestTransferServiceDuplicateActiveRequest(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, adminA, createRequest("E3", "office-a", "office-b"))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, adminA, createRequest("E3", "office-a", "office-c"))
	require.Error(t, err)
	assert.Equal(t, "DUPLICATE_ACTIVE_REQUEST", appErrors.FromError(err).Code)

	_, err = f.svc.Respond(ctx, adminB, decision(first.ID, models.TransferActionReject, "no vacancy"))
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, adminA, createRequest("E3", "office-a", "office-c"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, second.History, 1)
}

func TestTransferServiceCreateValidation(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	cases := map[string]func(*dto.CreateTransferRequest){
		"same office":      func(r *dto.CreateTransferRequest) { r.ToOffice = r.FromOffice },
		"missing employee": func(r *dto.CreateTransferRequest) { r.EmployeeRef = " " },
		"unknown type":     func(r *dto.CreateTransferRequest) { r.TransferType = "PROMOTION" },
		"bad date":         func(r *dto.CreateTransferRequest) { r.TransferDate = "01/02/2025" },
		"bad order date":   func(r *dto.CreateTransferRequest) { r.OrderDate = "2025-13-40" },
		"relative doc ref": func(r *dto.CreateTransferRequest) { r.OrderDocumentRef = "orders/1.pdf" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := createRequest("E4", "office-a", "office-b")
			mutate(&req)
			_, err := f.svc.Create(ctx, adminA, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))
		})
	}

	_, err := f.svc.Create(ctx, adminA, createRequest("E4", "office-a", "office-a"))
	require.Error(t, err)
	assert.Equal(t, "toOffice must differ from fromOffice", appErrors.FromError(err).Message)

	req := createRequest("E4", "office-a", "office-b")
	req.TransferType = "deputation"
	req.OrderNumber = "ORD-7"
	req.OrderDate = "2025-01-20"
	req.OrderDocumentRef = "https://files.example.org/orders/7.pdf"
	created, err := f.svc.Create(ctx, adminA, req)
	require.NoError(t, err)
	assert.Equal(t, models.TransferTypeDeputation, created.TransferType)
	require.NotNil(t, created.OrderDate)
	assert.Equal(t, "2025-01-20", created.OrderDate.Format(dateLayout))
}

func TestTransferServiceCreateAuthorization(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	for _, actor := range []models.Actor{adminB, zonal1, district1, root} {
		_, err := f.svc.Create(ctx, actor, createRequest("E5", "office-a", "office-b"))
		assert.True(t, errors.Is(err, appErrors.ErrForbidden), "actor %s", actor.UserID)
	}
}

func TestTransferServiceDecisionAuthorization(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E6", "office-a", "office-b"))
	require.NoError(t, err)

	// originating office cannot accept its own request
	_, err = f.svc.Respond(ctx, adminA, decision(created.ID, models.TransferActionAccept, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	// acting before one's stage
	_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.Equal(t, models.RoleOfficeAdmin, appErrors.FromError(err).Details["requiredRole"])
	// role outside the chain
	_, err = f.svc.Approve(ctx, root, decision(created.ID, models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)

	// zone of the origin office is not in scope under the destination policy
	_, err = f.svc.Approve(ctx, zonal1, decision(created.ID, models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	// already advanced past the office admin stage
	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, district2, decision(created.ID, models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	current, err := f.svc.Get(ctx, root, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusZonalApproved, current.Status)
	assert.Len(t, current.History, 3)
}

func TestTransferServiceFromOfficeScope(t *testing.T) {
	f := newTransferFixture(t, config.ScopeFromOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E7", "office-a", "office-c"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminC, decision(created.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, models.Actor{UserID: "zonal-3", Role: models.RoleZonalAuthority, ZoneID: "zone-3"}, decision(created.ID, models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Approve(ctx, zonal1, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	final, err := f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFullyApproved, final.Status)
}

func TestTransferServiceUnknownRequest(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	_, err := f.svc.Respond(context.Background(), adminB, decision("tr-missing", models.TransferActionAccept, ""))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Get(context.Background(), root, "tr-missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Respond(context.Background(), adminB, decision("tr-1", models.TransferActionApprove, ""))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestTransferServiceSideEffectFailureAndReconcile(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E8", "office-a", "office-b"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)

	f.effect.fail = errors.New("employee registry unavailable")
	final, err := f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionApprove, ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrSideEffect))
	assert.True(t, appErrors.Retryable(err))
	require.NotNil(t, final)
	assert.Equal(t, models.TransferStatusFullyApproved, final.Status)
	assert.Nil(t, final.EffectAppliedAt)
	assert.Contains(t, f.events.types(), models.TransferEventEffectFailed)

	stored, err := f.svc.Get(ctx, root, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFullyApproved, stored.Status)

	_, err = f.svc.Reconcile(ctx, adminB, created.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	f.effect.fail = nil
	reconciled, err := f.svc.Reconcile(ctx, district1, created.ID)
	require.NoError(t, err)
	require.NotNil(t, reconciled.EffectAppliedAt)
	assert.Equal(t, "office-b", f.effect.applied["E8"])

	calls := f.effect.calls
	again, err := f.svc.Reconcile(ctx, root, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, again.EffectAppliedAt)
	assert.Equal(t, calls, f.effect.calls)
}

func TestTransferServiceReconcileRefusesSupersededRequest(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()
	zonal3 := models.Actor{UserID: "zonal-3", Role: models.RoleZonalAuthority, ZoneID: "zone-3"}

	first, err := f.svc.Create(ctx, adminA, createRequest("E20", "office-a", "office-b"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminB, decision(first.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, zonal2, decision(first.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	f.effect.fail = errors.New("employee registry unavailable")
	_, err = f.svc.Approve(ctx, district1, decision(first.ID, models.TransferActionApprove, ""))
	require.True(t, errors.Is(err, appErrors.ErrSideEffect))
	f.effect.fail = nil

	second, err := f.svc.Create(ctx, adminB, createRequest("E20", "office-b", "office-c"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminC, decision(second.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, zonal3, decision(second.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	placed, err := f.svc.Approve(ctx, district2, decision(second.ID, models.TransferActionApprove, ""))
	require.NoError(t, err)
	require.NotNil(t, placed.EffectAppliedAt)
	assert.Equal(t, "office-c", f.effect.applied["E20"])

	calls := f.effect.calls
	_, err = f.svc.Reconcile(ctx, root, first.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.Equal(t, second.ID, appErrors.FromError(err).Details["supersededBy"])
	assert.Equal(t, calls, f.effect.calls)
	assert.Equal(t, "office-c", f.effect.applied["E20"])

	stale, err := f.svc.Get(ctx, root, first.ID)
	require.NoError(t, err)
	assert.Nil(t, stale.EffectAppliedAt)
}

func TestTransferServiceDecisionPayloadValidation(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E21", "office-a", "office-b"))
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionReject, strings.Repeat("x", 2001)))
	require.True(t, errors.Is(err, appErrors.ErrValidation))
	fields, ok := appErrors.FromError(err).Details["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "max", fields["comment"])

	_, err = f.svc.Approve(ctx, zonal2, decision("", models.TransferActionApprove, ""))
	require.True(t, errors.Is(err, appErrors.ErrValidation))
	fields, ok = appErrors.FromError(err).Details["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "required", fields["requestId"])

	stored, err := f.svc.Get(ctx, root, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusPending, stored.Status)
	assert.Len(t, stored.History, 1)
}

func TestTransferServiceRejectionCommentCheckedAfterAuthorization(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E22", "office-a", "office-b"))
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, adminC, decision(created.ID, models.TransferActionReject, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionReject, ""))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionReject, "  "))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionReject, "no vacancy"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionReject, ""))
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestTransferServiceReconcileRequiresFullApproval(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	created, err := f.svc.Create(context.Background(), adminA, createRequest("E9", "office-a", "office-b"))
	require.NoError(t, err)

	_, err = f.svc.Reconcile(context.Background(), root, created.ID)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestTransferServiceConcurrentFinalApproval(t *testing.T) {
	lockers := map[string]TransferLocker{
		"local lock":    NewLocalTransferLocker(),
		"version check": noLocker{},
	}
	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newTransferFixture(t, config.ScopeToOffice, WithTransferLocker(locker))
			ctx := context.Background()

			created, err := f.svc.Create(ctx, adminA, createRequest("E10", "office-a", "office-b"))
			require.NoError(t, err)
			_, err = f.svc.Respond(ctx, adminB, decision(created.ID, models.TransferActionAccept, ""))
			require.NoError(t, err)
			_, err = f.svc.Approve(ctx, zonal2, decision(created.ID, models.TransferActionApprove, ""))
			require.NoError(t, err)

			const workers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				invalid   int
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.svc.Approve(ctx, district1, decision(created.ID, models.TransferActionApprove, ""))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, appErrors.ErrInvalidTransition):
						invalid++
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, workers-1, invalid)
			assert.Equal(t, 1, f.effect.calls)

			stored, err := f.svc.Get(ctx, root, created.ID)
			require.NoError(t, err)
			assert.Len(t, stored.History, 4)
			assertHistoryConsistent(t, stored)
		})
	}
}

func TestTransferServiceListViews(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	toB, err := f.svc.Create(ctx, adminA, createRequest("E11", "office-a", "office-b"))
	require.NoError(t, err)
	toC, err := f.svc.Create(ctx, adminA, createRequest("E12", "office-a", "office-c"))
	require.NoError(t, err)
	accepted, err := f.svc.Create(ctx, adminA, createRequest("E13", "office-a", "office-b"))
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, adminB, decision(accepted.ID, models.TransferActionAccept, ""))
	require.NoError(t, err)

	incoming, err := f.svc.List(ctx, adminB, dto.TransferListQuery{Scope: dto.TransferScopeIncoming})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, toB.ID, incoming[0].ID)

	outgoing, err := f.svc.List(ctx, adminA, dto.TransferListQuery{Scope: dto.TransferScopeOutgoing})
	require.NoError(t, err)
	require.Len(t, outgoing, 3)
	assert.Equal(t, accepted.ID, outgoing[0].ID, "newest first")
	assert.Equal(t, toB.ID, outgoing[2].ID)

	queue, err := f.svc.List(ctx, zonal2, dto.TransferListQuery{Scope: dto.TransferScopeQueue})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, accepted.ID, queue[0].ID)

	empty, err := f.svc.List(ctx, district1, dto.TransferListQuery{Scope: dto.TransferScopeQueue})
	require.NoError(t, err)
	assert.Empty(t, empty)

	incomingC, err := f.svc.List(ctx, root, dto.TransferListQuery{Scope: dto.TransferScopeIncoming, OfficeID: "office-c"})
	require.NoError(t, err)
	require.Len(t, incomingC, 1)
	assert.Equal(t, toC.ID, incomingC[0].ID)

	_, err = f.svc.List(ctx, adminB, dto.TransferListQuery{Scope: dto.TransferScopeOutgoing, OfficeID: "office-a"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.List(ctx, zonal2, dto.TransferListQuery{Scope: dto.TransferScopeOutgoing})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.List(ctx, root, dto.TransferListQuery{Scope: dto.TransferScopeQueue})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.List(ctx, adminA, dto.TransferListQuery{Scope: "archived"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestTransferServiceGetVisibility(t *testing.T) {
	f := newTransferFixture(t, config.ScopeToOffice)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, adminA, createRequest("E14", "office-a", "office-b"))
	require.NoError(t, err)

	for _, actor := range []models.Actor{adminA, adminB, zonal2, district1, root} {
		_, err := f.svc.Get(ctx, actor, created.ID)
		assert.NoError(t, err, "actor %s", actor.UserID)
	}
	for _, actor := range []models.Actor{adminC, zonal1, district2} {
		_, err := f.svc.Get(ctx, actor, created.ID)
		assert.True(t, errors.Is(err, appErrors.ErrForbidden), "actor %s", actor.UserID)
	}
}
