package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Operators are the sole principal kind; there is no role hierarchy and no
// refresh-token lifecycle in scope.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name,omitempty"`
}
