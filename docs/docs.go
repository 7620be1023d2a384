// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with `swag init -g cmd/api/main.go` after changing annotations.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/generation/{category}": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generation"],
                "summary": "Start a generation for a category",
                "parameters": [
                    {"type": "string", "description": "category slug, e.g. text-to-image", "name": "category", "in": "path", "required": true},
                    {"description": "{aiModelId, ...fields}", "name": "request", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.acceptedResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "category", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create a generation job",
                "parameters": [
                    {"description": "job payload (priority: 0=low,1=normal,2=high)", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.acceptedResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/api/v1/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/jobs/{id}/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Generated outputs of a job",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/webhooks": {
            "get": {
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Recent webhook events",
                "parameters": [{"type": "string", "name": "jobId", "in": "query"}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Provider callback, provider from X-Provider or payload shape",
                "parameters": [
                    {"type": "string", "name": "X-Provider", "in": "header"},
                    {"type": "string", "name": "X-Webhook-Signature", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "202": {"description": "stored but not applied, success is false", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "500": {"description": "event could not be stored", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}}
                }
            }
        },
        "/api/v1/webhooks/{provider}": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["webhooks"],
                "summary": "Provider callback",
                "parameters": [
                    {"type": "string", "name": "provider", "in": "path", "required": true},
                    {"type": "string", "name": "X-Webhook-Signature", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "202": {"description": "stored but not applied, success is false", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}},
                    "500": {"description": "event could not be stored", "schema": {"$ref": "#/definitions/httptransport.webhookAck"}}
                }
            }
        },
        "/api/v1/providers/{provider}/keys": {
            "get": {
                "produces": ["application/json"],
                "tags": ["keys"],
                "summary": "Key pool state of a provider",
                "parameters": [{"type": "string", "name": "provider", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/keys/{id}/reset": {
            "post": {
                "tags": ["keys"],
                "summary": "Put a key back into rotation",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}
            }
        }
    },
    "definitions": {
        "httptransport.apiError": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "httptransport.acceptedResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"},
                "category": {"type": "string"},
                "modelId": {"type": "string"}
            }
        },
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "modelId": {"type": "string"},
                "category": {"type": "string"},
                "priority": {"type": "integer"},
                "requestData": {"type": "object"}
            }
        },
        "httptransport.webhookAck": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "job_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Generation Gateway API",
	Description:      "Queues AI generation jobs across providers and reconciles their callbacks.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
