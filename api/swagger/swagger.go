package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "KRS Enrollment API",
        "description": "Course registration: cart, period gate, eligibility, seat claims, waitlists",
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
        {"name": "Enrollments", "description": "Enroll, drop and list own enrollments"},
        {"name": "Cart", "description": "Pre-registration cart and checkout"},
        {"name": "Sections", "description": "Rosters and waitlists"}
    ],
    "paths": {
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List my enrollments",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll in a course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Active or waitlisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "PERIOD_CLOSED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "ALREADY_ENROLLED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Eligibility rejection", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "RATE_LIMITED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/drop": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Drop a course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DropRequest"}}
                ],
                "responses": {
                    "200": {"description": "Dropped", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NOT_ENROLLED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cart": {
            "get": {
                "tags": ["Cart"],
                "summary": "List cart items",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Cart"],
                "summary": "Clear the cart",
                "responses": {
                    "204": {"description": "Cleared"}
                }
            }
        },
        "/cart/items": {
            "post": {
                "tags": ["Cart"],
                "summary": "Add a course to the cart",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddCartItemRequest"}}
                ],
                "responses": {
                    "201": {"description": "Added", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "ALREADY_IN_CART", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "CART_FULL", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cart/items/{courseId}": {
            "delete": {
                "tags": ["Cart"],
                "summary": "Remove a course from the cart",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Removed"},
                    "404": {"description": "NOT_IN_CART", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cart/checkout": {
            "post": {
                "tags": ["Cart"],
                "summary": "Check out the cart",
                "responses": {
                    "200": {"description": "Per-item outcomes", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}/roster": {
            "get": {
                "tags": ["Sections"],
                "summary": "Section roster",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Section not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}/waitlist": {
            "get": {
                "tags": ["Sections"],
                "summary": "Section waitlist",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Section not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "EnrollRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "section_id": {"type": "string"}
            },
            "required": ["course_id"]
        },
        "DropRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"}
            },
            "required": ["course_id"]
        },
        "AddCartItemRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"}
            },
            "required": ["course_id"]
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
