package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds staff credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   int64    `json:"user_id"`
	Role     UserRole `json:"role"`
	Username string   `json:"username"`
	jwt.RegisteredClaims
}

// StaffIdentity is the authenticated panel user an operation acts for.
type StaffIdentity struct {
	UserID int64
	Role   UserRole
}

// SeesAll reports whether the identity is not scoped to owned records.
func (s StaffIdentity) SeesAll() bool {
	return s.Role == RoleAdmin
}

// CanSee reports whether a record owned by ownerID is visible.
func (s StaffIdentity) CanSee(ownerID int64) bool {
	return s.SeesAll() || s.UserID == ownerID
}

// Scope returns an application filter restricted to what the identity may see.
func (s StaffIdentity) Scope() ApplicationFilter {
	return ApplicationFilter{OwnerID: s.UserID, AllOwners: s.SeesAll()}
}
