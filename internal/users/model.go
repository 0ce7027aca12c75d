package users

import (
	"strings"
)

// Role identifies the kind of account.
type Role string

const (
	RoleStaff     Role = "staff"
	RoleRecruiter Role = "recruiter"
	RoleInstitute Role = "institute"
	RoleAdmin     Role = "admin"
)

// ParseRole validates a raw role name.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleStaff:
		return RoleStaff, true
	case RoleRecruiter:
		return RoleRecruiter, true
	case RoleInstitute:
		return RoleInstitute, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is a marketplace account.
type User struct {
	UserID           string   `json:"userId"`
	Role             Role     `json:"role"`
	FullName         string   `json:"fullName"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone,omitempty"`
	Degree           string   `json:"degree,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	ExperienceYears  int      `json:"experienceYears,omitempty"`
	Blocked          bool     `json:"blocked"`
	Visible          bool     `json:"visible"`
	CreatedAtSeconds int64    `json:"createdAt"`
	UpdatedAtSeconds int64    `json:"updatedAt"`
}

// Student is a learner enrolled at, and owned by, an institute. Students do not log in.
type Student struct {
	StudentID        string   `json:"studentId"`
	InstituteID      string   `json:"instituteId"`
	FullName         string   `json:"fullName"`
	Email            string   `json:"email,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Degree           string   `json:"degree,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	CreatedAtSeconds int64    `json:"createdAt"`
}

// Identity is the authenticated caller resolved by the auth layer.
type Identity struct {
	UserID string
	Role   Role
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
