// Package authorizer extracts user identity from requests authorized by the
// Cognito JWT authorizer on the HTTP API.
package authorizer

import (
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Claims carries the identity of the authenticated uploader.
type Claims struct {
	Email   string
	Subject string
	IsAdmin bool
}

const adminGroup = "map-admins"

// ParseClaims reads the Cognito JWT claims attached by the API Gateway
// authorizer. Returns nil when the request carries no identity.
func ParseClaims(request events.APIGatewayV2HTTPRequest) *Claims {
	auth := request.RequestContext.Authorizer
	if auth == nil || auth.JWT == nil {
		return nil
	}

	jwtClaims := auth.JWT.Claims

	email, ok := jwtClaims["email"]
	if !ok || email == "" {
		return nil
	}

	claims := Claims{
		Email:   email,
		Subject: jwtClaims["sub"],
	}

	// cognito:groups arrives as a bracketed space-separated list.
	if groups, ok := jwtClaims["cognito:groups"]; ok {
		trimmed := strings.Trim(groups, "[]")
		for _, g := range strings.Fields(trimmed) {
			if g == adminGroup {
				claims.IsAdmin = true
			}
		}
	}

	return &claims
}

// CanAccessMap reports whether the caller may read or delete a map record.
// Owners and admins only.
func (c *Claims) CanAccessMap(ownerEmail string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin || strings.EqualFold(c.Email, ownerEmail)
}
