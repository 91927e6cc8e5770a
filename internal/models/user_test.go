package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"manager role", RoleManager, true},
		{"operator role", RoleOperator, true},
		{"viewer role", RoleViewer, true},
		{"invalid role", "invalid", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestUser_HasPermission(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	manager := &User{Role: RoleManager}
	operator := &User{Role: RoleOperator}
	viewer := &User{Role: RoleViewer}

	tests := []struct {
		name     string
		user     *User
		action   string
		expected bool
	}{
		{"admin can manage users", admin, ActionManageUsers, true},
		{"admin can clean up duplicates", admin, ActionCleanupDuplicates, true},

		{"manager cannot manage users", manager, ActionManageUsers, false},
		{"manager can clean up duplicates", manager, ActionCleanupDuplicates, true},
		{"manager can mirror sheets", manager, ActionMirrorSheets, true},

		// Field operators capture and drain their own queue
		{"operator can capture fuel", operator, ActionCaptureFuel, true},
		{"operator can capture meter", operator, ActionCaptureMeter, true},
		{"operator can capture service order", operator, ActionCaptureServiceOrder, true},
		{"operator can sync", operator, ActionSyncFieldRecords, true},
		{"operator can check duplicates", operator, ActionCheckDuplicates, true},
		{"operator cannot clean up duplicates", operator, ActionCleanupDuplicates, false},
		{"operator cannot mirror sheets", operator, ActionMirrorSheets, false},

		{"viewer can view queue", viewer, ActionViewQueue, true},
		{"viewer cannot capture fuel", viewer, ActionCaptureFuel, false},
		{"viewer cannot sync", viewer, ActionSyncFieldRecords, false},

		{"unknown role has nothing", &User{Role: "ghost"}, ActionViewQueue, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.user.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("User with role %s HasPermission(%s) = %v, want %v",
					tt.user.Role, tt.action, result, tt.expected)
			}
		})
	}
}

func TestUser_DisplayName(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"first and last", User{Username: "jsilva", FirstName: "João", LastName: "Silva"}, "João Silva"},
		{"first only", User{Username: "jsilva", FirstName: " João "}, "João"},
		{"falls back to username", User{Username: "jsilva"}, "jsilva"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaptureAction(t *testing.T) {
	if CaptureAction(RecordTypeFuel) != ActionCaptureFuel {
		t.Error("fuel record should need capture_fuel")
	}
	if CaptureAction(RecordTypeServiceOrder) != ActionCaptureServiceOrder {
		t.Error("service order should need capture_service_order")
	}
	if CaptureAction("bogus") != "" {
		t.Error("unknown type should map to no action")
	}
}
