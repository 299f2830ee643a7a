// Package docs holds the OpenAPI document served under /swagger. Keep it in
// step with the godoc annotations on the api handlers.
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
        "/campaigns": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["campaigns"],
                "summary": "Create a campaign and start delivery",
                "parameters": [
                    {
                        "description": "Campaign",
                        "name": "campaign",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/campaign.LaunchRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/campaign.LaunchResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/campaigns/preview": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["campaigns"],
                "summary": "Count and sample the audience of a segment rule",
                "parameters": [
                    {
                        "description": "Segment rules",
                        "name": "preview",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/api.PreviewRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/campaign.Preview"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/campaigns/{id}/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["campaigns"],
                "summary": "Campaign status and delivery counts",
                "parameters": [
                    {"type": "string", "description": "Campaign ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/campaign.Report"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/delivery-receipts": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["delivery"],
                "summary": "Accept a vendor delivery receipt",
                "parameters": [
                    {
                        "description": "Receipt",
                        "name": "receipt",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/api.DeliveryReceipt"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "segment.Rule": {
            "type": "object",
            "properties": {
                "operator": {"type": "string", "enum": ["AND", "OR"]},
                "conditions": {"type": "array", "items": {"$ref": "#/definitions/segment.Rule"}},
                "field": {"type": "string"},
                "condition": {"type": "string"},
                "value": {}
            }
        },
        "campaign.LaunchRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "segmentRules": {"$ref": "#/definitions/segment.Rule"},
                "messageTemplate": {"type": "string"}
            }
        },
        "campaign.LaunchResult": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "campaignId": {"type": "string"},
                "audienceSize": {"type": "integer"}
            }
        },
        "api.PreviewRequest": {
            "type": "object",
            "properties": {
                "segmentRules": {"$ref": "#/definitions/segment.Rule"}
            }
        },
        "campaign.Preview": {
            "type": "object",
            "properties": {
                "audienceSize": {"type": "integer"},
                "sampleAudience": {"type": "array", "items": {"type": "object"}}
            }
        },
        "campaign.Report": {
            "type": "object",
            "properties": {
                "campaign": {"type": "object"},
                "stats": {
                    "type": "object",
                    "properties": {
                        "sent": {"type": "integer"},
                        "failed": {"type": "integer"},
                        "pending": {"type": "integer"},
                        "total": {"type": "integer"}
                    }
                },
                "progress": {
                    "type": "object",
                    "properties": {
                        "sent": {"type": "integer"},
                        "failed": {"type": "integer"},
                        "pages": {"type": "integer"}
                    }
                }
            }
        },
        "api.DeliveryReceipt": {
            "type": "object",
            "properties": {
                "_id": {"type": "string"},
                "status": {"type": "string", "enum": ["SENT", "FAILED"]},
                "errorReason": {"type": "string"}
            }
        },
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_code": {"type": "string"},
                "details": {"type": "object"}
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
	Title:            "CRM Pipeline Service API",
	Description:      "Campaign launch, audience preview, delivery stats and vendor receipts",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
