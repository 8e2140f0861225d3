// Package gateway holds helpers for API Gateway V2 responses.
package gateway

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
)

// ErrorResponse is the body returned for all failed API calls.
type ErrorResponse struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// CreateErrorMessage renders the standard error body.
func CreateErrorMessage(message string, code int) string {
	body, _ := json.Marshal(ErrorResponse{Message: message, StatusCode: code})
	return string(body)
}

// ErrorResp wraps CreateErrorMessage in a full response.
func ErrorResp(message string, code int) *events.APIGatewayV2HTTPResponse {
	return &events.APIGatewayV2HTTPResponse{
		StatusCode: code,
		Body:       CreateErrorMessage(message, code),
	}
}

// JSONResp marshals v as a 200-family response.
func JSONResp(v interface{}, code int) *events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(v)
	return &events.APIGatewayV2HTTPResponse{
		StatusCode: code,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
