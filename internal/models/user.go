package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Permission actions checked by the HTTP layer.
const (
	ActionCaptureFuel         = "capture_fuel"
	ActionCaptureMeter        = "capture_meter"
	ActionCaptureServiceOrder = "capture_service_order"
	ActionSyncFieldRecords    = "sync_field_records"
	ActionViewQueue           = "view_queue"
	ActionCheckDuplicates     = "check_duplicates"
	ActionCleanupDuplicates   = "cleanup_duplicates"
	ActionMirrorSheets        = "mirror_sheets"
	ActionManageUsers         = "manage_users"
)

// User represents a dashboard or field user
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	FirstName    string             `bson:"first_name" json:"first_name"`
	LastName     string             `bson:"last_name" json:"last_name"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// DisplayName is the name a field device shows for the logged-in user.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is sent by an admin to create a dashboard or field account.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission reports whether the role may perform action.
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionManageUsers
	case RoleOperator:
		return action == ActionCaptureFuel || action == ActionCaptureMeter ||
			action == ActionCaptureServiceOrder || action == ActionSyncFieldRecords ||
			action == ActionViewQueue || action == ActionCheckDuplicates
	case RoleViewer:
		return action == ActionViewQueue || action == ActionCheckDuplicates
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return u.Role.HasPermission(action)
}

// CaptureAction maps a queued record type to the permission needed to capture it.
func CaptureAction(t RecordType) string {
	switch t {
	case RecordTypeFuel:
		return ActionCaptureFuel
	case RecordTypeMeterReading:
		return ActionCaptureMeter
	case RecordTypeServiceOrder:
		return ActionCaptureServiceOrder
	default:
		return ""
	}
}
