package models

import "time"

// TransferType enumerates supported kinds of staff movement.
type TransferType string

const (
	TransferTypeTransfer   TransferType = "TRANSFER"
	TransferTypeDeputation TransferType = "DEPUTATION"
	TransferTypeAttachment TransferType = "ATTACHMENT"
)

// Valid reports whether t is a known transfer type.
func (t TransferType) Valid() bool {
	switch t {
	case TransferTypeTransfer, TransferTypeDeputation, TransferTypeAttachment:
		return true
	default:
		return false
	}
}

// TransferStatus captures the approval chain states.
type TransferStatus string

const (
	TransferStatusPending           TransferStatus = "PENDING"
	TransferStatusRejected          TransferStatus = "REJECTED"
	TransferStatusReceivingApproved TransferStatus = "RECEIVING_APPROVED"
	TransferStatusZonalApproved     TransferStatus = "ZONAL_APPROVED"
	TransferStatusFullyApproved     TransferStatus = "FULLY_APPROVED"
	TransferStatusFinallyRejected   TransferStatus = "FINALLY_REJECTED"
)

// ActiveTransferStatuses lists the non-terminal states.
var ActiveTransferStatuses = []TransferStatus{
	TransferStatusPending,
	TransferStatusReceivingApproved,
	TransferStatusZonalApproved,
}

// Terminal reports whether no further transition is permitted from s.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferStatusRejected, TransferStatusFinallyRejected, TransferStatusFullyApproved:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the defined states.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferStatusPending, TransferStatusRejected, TransferStatusReceivingApproved,
		TransferStatusZonalApproved, TransferStatusFullyApproved, TransferStatusFinallyRejected:
		return true
	default:
		return false
	}
}

// TransferAction is a decision an actor takes on a request.
type TransferAction string

const (
	TransferActionAccept  TransferAction = "accept"
	TransferActionApprove TransferAction = "approve"
	TransferActionReject  TransferAction = "reject"
)

// TransferRequest is a staff transfer moving through the approval chain.
type TransferRequest struct {
	ID               string                 `db:"id" json:"id"`
	EmployeeRef      string                 `db:"employee_ref" json:"employeeRef"`
	FromOffice       string                 `db:"from_office" json:"fromOffice"`
	ToOffice         string                 `db:"to_office" json:"toOffice"`
	TransferType     TransferType           `db:"transfer_type" json:"transferType"`
	TransferDate     time.Time              `db:"transfer_date" json:"transferDate"`
	Reason           *string                `db:"reason" json:"reason,omitempty"`
	OrderNumber      *string                `db:"order_number" json:"orderNumber,omitempty"`
	OrderDate        *time.Time             `db:"order_date" json:"orderDate,omitempty"`
	OrderDocumentRef *string                `db:"order_document_ref" json:"orderDocumentRef,omitempty"`
	Status           TransferStatus         `db:"status" json:"status"`
	RequestedBy      string                 `db:"requested_by" json:"requestedBy"`
	Version          int                    `db:"version" json:"version"`
	EffectAppliedAt  *time.Time             `db:"effect_applied_at" json:"effectAppliedAt,omitempty"`
	CreatedAt        time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time              `db:"updated_at" json:"updatedAt"`
	History          []TransferHistoryEntry `db:"-" json:"history,omitempty"`
}

// Active reports whether the request still awaits a decision.
func (t *TransferRequest) Active() bool {
	return !t.Status.Terminal()
}

// TransferHistoryEntry is one append-only audit step of a request.
type TransferHistoryEntry struct {
	ID         string         `db:"id" json:"-"`
	TransferID string         `db:"transfer_id" json:"-"`
	Seq        int            `db:"seq" json:"seq"`
	Status     TransferStatus `db:"status" json:"status"`
	ActorRef   string         `db:"actor_ref" json:"actorRef"`
	ActorRole  UserRole       `db:"actor_role" json:"actorRole"`
	Comment    *string        `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"timestamp"`
}

// TransferFilter constrains listing queries. Zone and district filters apply to
// the office selected by ScopeByFromOffice (to_office otherwise).
type TransferFilter struct {
	FromOffice        string
	ToOffice          string
	Statuses          []TransferStatus
	EmployeeRef       string
	ZoneID            string
	DistrictID        string
	ScopeByFromOffice bool
	Limit             int
	Offset            int
}
