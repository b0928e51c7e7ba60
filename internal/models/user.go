package models

import (
	"time"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleDriver      Role = "driver"
	RoleTechnician  Role = "technician"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// User represents a user in the system
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string            `bson:"username" json:"username"`
	Email        string            `bson:"email" json:"email"`
	PasswordHash string            `bson:"password_hash" json:"-"`
	Role         Role              `bson:"role" json:"role"`
	SiteID       string            `bson:"site_id" json:"site_id"`
	FullName     string            `bson:"full_name" json:"full_name"`
	PushTokens   []string          `bson:"push_tokens,omitempty" json:"-"`
	IsActive     bool              `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time        `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role" validate:"required,oneof=driver technician coordinator admin"`
	// SiteID is required for every role but admin.
	SiteID string `json:"site_id" validate:"required_unless=Role admin"`
}

// ChangePasswordRequest represents a password change by the current user
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims. They are the only credential the lifecycle
// engine trusts for role and site checks.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	SiteID   string `json:"site_id"`
	Exp      int64  `json:"exp"`
}

// IsAdmin reports whether the caller holds the cross-site admin capability.
func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleDriver, RoleTechnician, RoleCoordinator, RoleAdmin:
		return true
	default:
		return false
	}
}
