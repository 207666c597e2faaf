package dto

import "github.com/noah-isme/staff-transfer-api/internal/models"

// CreateTransferRequest is the payload for submitting a transfer on behalf of an employee.
type CreateTransferRequest struct {
	EmployeeRef      string `json:"employeeRef" validate:"required,max=64"`
	FromOffice       string `json:"fromOffice" validate:"required,max=64"`
	ToOffice         string `json:"toOffice" validate:"required,max=64,nefield=FromOffice"`
	TransferType     string `json:"transferType" validate:"required,transfer_type"`
	TransferDate     string `json:"transferDate" validate:"required,datetime=2006-01-02"`
	Reason           string `json:"reason" validate:"omitempty,max=2000"`
	OrderNumber      string `json:"orderNumber" validate:"omitempty,max=128"`
	OrderDate        string `json:"orderDate" validate:"omitempty,datetime=2006-01-02"`
	OrderDocumentRef string `json:"orderDocumentRef" validate:"omitempty,url,max=2048"`
}

// TransferDecisionRequest carries an actor's decision on a request.
type TransferDecisionRequest struct {
	RequestID string                `json:"requestId" validate:"required"`
	Action    models.TransferAction `json:"action" validate:"required"`
	Comment   string                `json:"comment" validate:"omitempty,max=2000"`
}

// TransferScope selects one of the list views.
type TransferScope string

const (
	TransferScopeIncoming TransferScope = "incoming"
	TransferScopeOutgoing TransferScope = "outgoing"
	TransferScopeQueue    TransferScope = "queue"
)

// TransferListQuery mirrors supported listing parameters. OfficeID is honoured for SUPERADMIN only.
type TransferListQuery struct {
	Scope    TransferScope
	OfficeID string
	Limit    int
	Offset   int
}
