// Package docs holds the OpenAPI document served at /swagger when
// SWAGGER_ENABLED=true. Regenerate with: swag init -g cmd/supportd/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat/start": {
            "post": {
                "tags": ["Chat"],
                "summary": "Start a support conversation",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/message": {
            "post": {
                "tags": ["Chat"],
                "summary": "Send one turn",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/resume": {
            "post": {
                "tags": ["Chat"],
                "summary": "Resume a session",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/sessions/{id}/messages": {
            "get": {
                "tags": ["Chat"],
                "summary": "List the transcript of a session",
                "parameters": [
                    {"type": "string", "description": "identifier", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/list_orders": {
            "post": {
                "tags": ["Tools"],
                "summary": "List orders for an identifier",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/list_order_items": {
            "post": {
                "tags": ["Tools"],
                "summary": "List the items of an order",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/set_selected_order": {
            "post": {
                "tags": ["Tools"],
                "summary": "Confirm the order for an identifier",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/set_selected_items": {
            "post": {
                "tags": ["Tools"],
                "summary": "Confirm the item of an order",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/create_return": {
            "post": {
                "tags": ["Tools"],
                "summary": "Create an RMA",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/generate_label": {
            "post": {
                "tags": ["Tools"],
                "summary": "Generate a shipping label for an RMA",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/create_escalation": {
            "post": {
                "tags": ["Tools"],
                "summary": "Hand a case off to a human",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/upload_evidence": {
            "post": {
                "tags": ["Evidence"],
                "summary": "Upload evidence for a session",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/validate_evidence": {
            "post": {
                "tags": ["Evidence"],
                "summary": "Validate evidence for an order item",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/evidence/{id}": {
            "get": {
                "tags": ["Evidence"],
                "summary": "Get an evidence record",
                "parameters": [
                    {"type": "string", "description": "identifier", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/get_case_status": {
            "post": {
                "tags": ["Tools"],
                "summary": "Get the customer-visible status of a case",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/check_eligibility": {
            "post": {
                "tags": ["Tools"],
                "summary": "Derive the policy decision for an order item",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/issue_store_credit": {
            "post": {
                "tags": ["Tools"],
                "summary": "Issue store credit for a case",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tools/create_test_order": {
            "post": {
                "tags": ["Tools"],
                "summary": "Insert a fixture order",
                "responses": {
                    "201": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Support Agent API",
	Description:      "Policy-grounded refund and return assistant with audited tool calls.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
