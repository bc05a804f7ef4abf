package handlers

import (
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description string, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonContent(schema object) object {
	return object{"application/json": object{"schema": schema}}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func pageSchema(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"total":    object{"type": "integer"},
			"page":     object{"type": "integer"},
			"per_page": object{"type": "integer"},
			"items":    object{"type": "array", "items": ref(item)},
		},
	}
}

func errorResponses() object {
	return object{
		"400": object{"description": "Invalid filter or pagination parameter", "content": jsonContent(ref("Error"))},
		"404": object{"description": "No rows match the filters", "content": jsonContent(ref("Error"))},
		"429": object{"description": "Rate limit exceeded", "content": jsonContent(ref("Error"))},
		"500": object{"description": "Storage failure", "content": jsonContent(ref("Error"))},
	}
}

func listOperation(summary, description, item string, params ...object) object {
	responses := errorResponses()
	responses["200"] = object{"description": "One page of results", "content": jsonContent(pageSchema(item))}

	params = append(params,
		queryParam("station_id", "Exact station identifier", object{"type": "string"}),
		queryParam("page", "1-indexed page number (default: 1)", object{"type": "integer", "minimum": 1, "default": 1}),
		queryParam("per_page", "Page size (default: 10, capped by server config)", object{"type": "integer", "minimum": 1, "default": 10}),
	)
	return object{"get": object{
		"summary":     summary,
		"description": description,
		"parameters":  params,
		"responses":   responses,
	}}
}

func nullableNumber(description string) object {
	return object{"type": "number", "nullable": true, "description": description}
}

// openAPIDocument describes the query API in OpenAPI 3.0 form
func openAPIDocument() object {
	observations := listOperation(
		"Query daily observations",
		"Reconciled daily observations filtered by date and station. Raw units: tenths of a degree Celsius and tenths of a millimetre.",
		"Observation",
		queryParam("date", "Calendar date (YYYY-MM-DD)", object{"type": "string", "format": "date"}),
	)
	stats := listOperation(
		"Query yearly statistics",
		"Per-station yearly aggregates computed by the pipeline",
		"YearlyStat",
		queryParam("year", "Four-digit year", object{"type": "string", "pattern": "^[0-9]{4}$"}),
	)

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Weather Pipeline API",
			"description": "Read access to reconciled weather observations and yearly station statistics",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/weather":       observations,
			"/observations":      observations,
			"/api/weather/stats": stats,
			"/stats":             stats,
			"/health": object{"get": object{
				"summary": "Health check",
				"responses": object{
					"200": object{"description": "Store reachable"},
					"503": object{"description": "Store unreachable"},
				},
			}},
			"/metrics": object{"get": object{
				"summary": "Prometheus metrics",
				"responses": object{
					"200": object{
						"description": "Prometheus metrics in text format",
						"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
					},
				},
			}},
		},
		"components": object{"schemas": object{
			"Observation": object{
				"type": "object",
				"properties": object{
					"id":            object{"type": "integer"},
					"station_id":    object{"type": "string"},
					"date":          object{"type": "string", "description": "YYYYMMDD"},
					"max_temp":      object{"type": "integer", "nullable": true},
					"min_temp":      object{"type": "integer", "nullable": true},
					"precipitation": object{"type": "integer", "nullable": true},
					"ingested_at":   object{"type": "string", "format": "date-time"},
				},
			},
			"YearlyStat": object{
				"type": "object",
				"properties": object{
					"station_id":                object{"type": "string"},
					"year":                      object{"type": "integer"},
					"avg_max_temp":              nullableNumber("Degrees Celsius, null when no valid readings"),
					"avg_min_temp":              nullableNumber("Degrees Celsius, null when no valid readings"),
					"total_precipitation":       nullableNumber("Centimetres, null when no valid readings"),
					"observation_count":         object{"type": "integer"},
					"valid_max_temp_count":      object{"type": "integer"},
					"valid_min_temp_count":      object{"type": "integer"},
					"valid_precipitation_count": object{"type": "integer"},
					"updated_at":                object{"type": "string", "format": "date-time"},
				},
			},
			"Error": object{
				"type": "object",
				"properties": object{
					"error":   object{"type": "string"},
					"message": object{"type": "string"},
					"code":    object{"type": "integer"},
				},
			},
		}},
	}
}

// OpenAPISpec serves the OpenAPI document
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, openAPIDocument(), http.StatusOK)
}
