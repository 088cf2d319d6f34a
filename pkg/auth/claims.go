package auth

import (
	"github.com/angelmondragon/tableside/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      string
	DisplayName string
	Role        enums.MemberRole
	JTI         string
}

// AccessTokenClaims represents the typed JWT presented by signed-in shoppers.
type AccessTokenClaims struct {
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	Role        enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
