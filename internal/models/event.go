package models

import "time"

// TransferEventType names the state-change notifications emitted by the workflow.
type TransferEventType string

const (
	TransferEventCreated       TransferEventType = "transfer.created"
	TransferEventTransitioned  TransferEventType = "transfer.transitioned"
	TransferEventEffectApplied TransferEventType = "transfer.effect_applied"
	TransferEventEffectFailed  TransferEventType = "transfer.effect_failed"
)

// TransferEvent is delivered to the audit/notification sinks after a change is committed.
type TransferEvent struct {
	ID          string            `json:"id"`
	Type        TransferEventType `json:"type"`
	TransferID  string            `json:"transferId"`
	EmployeeRef string            `json:"employeeRef"`
	FromOffice  string            `json:"fromOffice"`
	ToOffice    string            `json:"toOffice"`
	Action      TransferAction    `json:"action,omitempty"`
	FromStatus  TransferStatus    `json:"fromStatus,omitempty"`
	ToStatus    TransferStatus    `json:"toStatus"`
	ActorRef    string            `json:"actorRef"`
	ActorRole   UserRole          `json:"actorRole"`
	Comment     *string           `json:"comment,omitempty"`
	Error       string            `json:"error,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}
