package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Staff Transfer API",
        "description": "Employee transfer requests with receiving office, zonal and district approval",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Transfers", "description": "Transfer request submission and approval chain"}
    ],
    "paths": {
        "/transfers": {
            "get": {
                "tags": ["Transfers"],
                "summary": "List transfer requests",
                "parameters": [
                    {"name": "scope", "in": "query", "type": "string", "enum": ["incoming", "outgoing", "queue"]},
                    {"name": "officeId", "in": "query", "type": "string", "description": "SUPERADMIN only"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Transfers"],
                "summary": "Submit a transfer request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTransferRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Active request exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/respond": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Receiving office accepts or rejects",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransferDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/approve": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Zonal or district authority approves or rejects",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransferDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Approved but employee office update failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/{id}": {
            "get": {
                "tags": ["Transfers"],
                "summary": "Get a transfer request with its history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transfers/{id}/reconcile": {
            "post": {
                "tags": ["Transfers"],
                "summary": "Re-apply the employee office update of an approved transfer",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not fully approved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Update failed again", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateTransferRequest": {
            "type": "object",
            "required": ["employeeRef", "fromOffice", "toOffice", "transferType", "transferDate"],
            "properties": {
                "employeeRef": {"type": "string"},
                "fromOffice": {"type": "string"},
                "toOffice": {"type": "string"},
                "transferType": {"type": "string", "enum": ["TRANSFER", "DEPUTATION", "ATTACHMENT"]},
                "transferDate": {"type": "string", "format": "date"},
                "reason": {"type": "string"},
                "orderNumber": {"type": "string"},
                "orderDate": {"type": "string", "format": "date"},
                "orderDocumentRef": {"type": "string", "format": "uri"}
            }
        },
        "TransferDecisionRequest": {
            "type": "object",
            "required": ["requestId", "action"],
            "properties": {
                "requestId": {"type": "string"},
                "action": {"type": "string", "enum": ["accept", "approve", "reject"]},
                "comment": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "outcome": {"type": "string", "enum": ["success", "validation_failed", "unauthorized", "forbidden", "conflict", "not_found", "error"]},
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
