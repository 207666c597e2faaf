package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload issued by the identity service.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email,omitempty"`
	FullName   string   `json:"full_name,omitempty"`
	OfficeID   string   `json:"office_id,omitempty"`
	ZoneID     string   `json:"zone_id,omitempty"`
	DistrictID string   `json:"district_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the workflow principal.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{
		UserID:     c.UserID,
		Role:       c.Role,
		OfficeID:   c.OfficeID,
		ZoneID:     c.ZoneID,
		DistrictID: c.DistrictID,
	}
}
