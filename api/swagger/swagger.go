package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "GSO Maintenance API",
        "description": "Facility maintenance request approval pipeline for the General Services Office",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Token issuance and session management"},
        {"name": "Requests", "description": "Maintenance request submission and listings"},
        {"name": "Approval", "description": "Review and approval transitions"},
        {"name": "Reference", "description": "Offices, positions and maintenance types"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests": {
            "get": {
                "tags": ["Requests"],
                "summary": "List maintenance requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "office_id", "in": "query", "type": "string"},
                    {"name": "type_id", "in": "query", "type": "string"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Requests"],
                "summary": "Submit maintenance request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRequestPayload"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/pending": {
            "get": {
                "tags": ["Requests"],
                "summary": "List requests awaiting verification",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/approval-queue": {
            "get": {
                "tags": ["Requests"],
                "summary": "List requests awaiting approval",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/schedule": {
            "get": {
                "tags": ["Requests"],
                "summary": "List approved work ordered by receive date",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/export": {
            "get": {
                "tags": ["Requests"],
                "summary": "Export requests as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Get maintenance request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Requests"],
                "summary": "Edit request details before verification",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRequestPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid state or stale version"}
                }
            },
            "delete": {
                "tags": ["Requests"],
                "summary": "Delete request (admin)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/requests/{id}/verify": {
            "post": {
                "tags": ["Approval"],
                "summary": "Verify a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid state or stale version"}
                }
            }
        },
        "/requests/{id}/approve": {
            "post": {
                "tags": ["Approval"],
                "summary": "Record a department head approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already approved or invalid state"}
                }
            }
        },
        "/requests/{id}/approve-director": {
            "post": {
                "tags": ["Approval"],
                "summary": "Record the director approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Head approvals missing"}
                }
            }
        },
        "/requests/{id}/deny": {
            "post": {
                "tags": ["Approval"],
                "summary": "Deny a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DenyPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/cancel": {
            "post": {
                "tags": ["Approval"],
                "summary": "Cancel a request before approval begins",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/urgent": {
            "post": {
                "tags": ["Approval"],
                "summary": "Flag a request as urgent",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/hold": {
            "post": {
                "tags": ["Approval"],
                "summary": "Place a request on hold",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/clear-flag": {
            "post": {
                "tags": ["Approval"],
                "summary": "Remove the urgent or on-hold flag",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reference/offices": {
            "get": {
                "tags": ["Reference"],
                "summary": "List offices",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reference/positions": {
            "get": {
                "tags": ["Reference"],
                "summary": "List positions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reference/maintenance-types": {
            "get": {
                "tags": ["Reference"],
                "summary": "List maintenance types",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "MaintenanceRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "date_requested": {"type": "string"},
                "details": {"type": "string"},
                "requester_id": {"type": "string"},
                "position_id": {"type": "string"},
                "office_id": {"type": "string"},
                "contact_number": {"type": "string"},
                "maintenance_type_id": {"type": "string"},
                "status": {"type": "string"},
                "date_received": {"type": "string"},
                "time_received": {"type": "string"},
                "priority_number": {"type": "string"},
                "remarks": {"type": "string"},
                "verified_by": {"type": "string"},
                "approved_by_first": {"type": "string"},
                "approved_by_second": {"type": "string"},
                "approved_by_director": {"type": "string"},
                "version": {"type": "integer"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "CreateRequestPayload": {
            "type": "object",
            "properties": {
                "date_requested": {"type": "string"},
                "details": {"type": "string"},
                "position_id": {"type": "string"},
                "office_id": {"type": "string"},
                "contact_number": {"type": "string"},
                "maintenance_type_id": {"type": "string"}
            },
            "required": ["date_requested", "details", "position_id", "office_id", "contact_number", "maintenance_type_id"]
        },
        "VerifyPayload": {
            "type": "object",
            "properties": {
                "date_received": {"type": "string"},
                "time_received": {"type": "string"},
                "priority_number": {"type": "string"},
                "remarks": {"type": "string"}
            },
            "required": ["date_received", "time_received", "priority_number"]
        },
        "DenyPayload": {
            "type": "object",
            "properties": {
                "remarks": {"type": "string"}
            },
            "required": ["remarks"]
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
