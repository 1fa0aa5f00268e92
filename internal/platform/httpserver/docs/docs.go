// Package docs serves the OpenAPI document for the settlement API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/tokens": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tokens"],
                "summary": "Add unblinded tokens to the spendable pool",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueTokensRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/IssueTokensResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/contributions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["contributions"],
                "summary": "Record a contribution",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateContributionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ContributionResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/contributions/{contribution_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["contributions"],
                "summary": "Read a contribution and its allocations",
                "parameters": [
                    {"type": "string", "name": "contribution_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ContributionResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/contributions/{contribution_id}/start": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["contributions"],
                "summary": "Settle a contribution from its start step",
                "parameters": [
                    {"type": "string", "name": "contribution_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/SettleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SettleResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/contributions/{contribution_id}/retry": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["contributions"],
                "summary": "Resume a contribution from its persisted step",
                "parameters": [
                    {"type": "string", "name": "contribution_id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/SettleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SettleResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "PublisherShareDTO": {
            "type": "object",
            "properties": {
                "publisher_key": {"type": "string"},
                "amount": {"type": "string"}
            }
        },
        "CreateContributionRequest": {
            "type": "object",
            "properties": {
                "contribution_id": {"type": "string"},
                "amount": {"type": "string"},
                "type": {"type": "string", "enum": ["one_time", "auto_contribute"]},
                "processor": {"type": "string", "enum": ["token_native", "external_wallet", "external_wallet_funds"]},
                "publishers": {"type": "array", "items": {"$ref": "#/definitions/PublisherShareDTO"}}
            }
        },
        "AllocationDTO": {
            "type": "object",
            "properties": {
                "publisher_key": {"type": "string"},
                "total_amount": {"type": "string"},
                "contributed_amount": {"type": "string"}
            }
        },
        "ContributionDTO": {
            "type": "object",
            "properties": {
                "contribution_id": {"type": "string"},
                "amount": {"type": "string"},
                "contributed": {"type": "string"},
                "type": {"type": "string"},
                "processor": {"type": "string"},
                "step": {"type": "string"},
                "retry_count": {"type": "integer"},
                "next_attempt_at": {"type": "string"},
                "publishers": {"type": "array", "items": {"$ref": "#/definitions/AllocationDTO"}},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "ContributionResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "data": {"$ref": "#/definitions/ContributionDTO"}
            }
        },
        "TokenDTO": {
            "type": "object",
            "properties": {
                "token_id": {"type": "string"},
                "token_value": {"type": "string"},
                "public_key": {"type": "string"},
                "value": {"type": "string"},
                "creds_id": {"type": "string"},
                "batch_type": {"type": "string", "enum": ["promotion", "sku"]},
                "expires_at": {"type": "string"}
            }
        },
        "IssueTokensRequest": {
            "type": "object",
            "properties": {
                "tokens": {"type": "array", "items": {"$ref": "#/definitions/TokenDTO"}}
            }
        },
        "IssueTokensResultDTO": {
            "type": "object",
            "properties": {
                "requested": {"type": "integer"},
                "issued": {"type": "integer"}
            }
        },
        "IssueTokensResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "data": {"$ref": "#/definitions/IssueTokensResultDTO"}
            }
        },
        "SettleRequest": {
            "type": "object",
            "properties": {
                "batch_types": {"type": "array", "items": {"type": "string"}}
            }
        },
        "SettleResultDTO": {
            "type": "object",
            "properties": {
                "contribution_id": {"type": "string"},
                "outcome": {"type": "string"},
                "step": {"type": "string"},
                "detail": {"type": "string"}
            }
        },
        "SettleResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "data": {"$ref": "#/definitions/SettleResultDTO"}
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
	Title:            "Rewards Settlement API",
	Description:      "Contribution settlement: token issuance and contribution settling.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
