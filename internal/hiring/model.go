package hiring

import (
	"strings"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/google/uuid"
)

// Status is the lifecycle state of an application.
type Status string

const (
	StatusApplied  Status = "Applied"
	StatusHired    Status = "Hired"
	StatusRejected Status = "Rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusHired || s == StatusRejected
}

// ParseDecision accepts Hired or Rejected, case-insensitively.
func ParseDecision(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hired":
		return StatusHired, true
	case "rejected":
		return StatusRejected, true
	default:
		return "", false
	}
}

// CandidateSnapshot is a denormalized copy of a candidate profile.
type CandidateSnapshot struct {
	FullName        string   `json:"fullName"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Degree          string   `json:"degree,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	ExperienceYears int      `json:"experienceYears,omitempty"`
}

func snapshotFromUser(user users.User) CandidateSnapshot {
	return CandidateSnapshot{
		FullName:        user.FullName,
		Email:           user.Email,
		Phone:           user.Phone,
		Degree:          user.Degree,
		Skills:          append([]string(nil), user.Skills...),
		ExperienceYears: user.ExperienceYears,
	}
}

func snapshotFromStudent(student users.Student) CandidateSnapshot {
	return CandidateSnapshot{
		FullName: student.FullName,
		Email:    student.Email,
		Phone:    student.Phone,
		Degree:   student.Degree,
		Skills:   append([]string(nil), student.Skills...),
	}
}

// Job is a posting owned by a recruiter.
type Job struct {
	JobID            string   `json:"jobId"`
	RecruiterID      string   `json:"recruiterId"`
	Title            string   `json:"title"`
	CompanyName      string   `json:"companyName"`
	Description      string   `json:"description,omitempty"`
	Location         string   `json:"location,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	CreatedAtSeconds int64    `json:"createdAt"`
}

// Application links one candidate to one job. Either StaffID or StudentID is set.
// ApplicationID is stable for a candidate and job; Revision changes every time
// the application is created again after a removal.
type Application struct {
	ApplicationID    string            `json:"applicationId"`
	Revision         string            `json:"revision"`
	StaffID          string            `json:"staffId,omitempty"`
	StudentID        string            `json:"studentId,omitempty"`
	RecruiterID      string            `json:"recruiterId"`
	InstituteID      string            `json:"instituteId,omitempty"`
	JobID            string            `json:"jobId"`
	JobTitle         string            `json:"jobTitle"`
	CompanyName      string            `json:"companyName"`
	Status           Status            `json:"status"`
	AppliedAtSeconds int64             `json:"appliedAt"`
	DecidedAtSeconds int64             `json:"decidedAt,omitempty"`
	DecidedBy        string            `json:"decidedBy,omitempty"`
	Candidate        CandidateSnapshot `json:"candidate"`
}

// CandidateID returns the staff or student identifier.
func (a Application) CandidateID() string {
	if a.StaffID != "" {
		return a.StaffID
	}
	return a.StudentID
}

// IsStudent reports whether an institute submitted the application.
func (a Application) IsStudent() bool {
	return a.StudentID != ""
}

// HiringRecord is the append-only audit entry written for each decision.
type HiringRecord struct {
	HiringRecordID   string            `json:"hiringRecordId"`
	ApplicationID    string            `json:"applicationId"`
	Revision         string            `json:"applicationRevision"`
	JobID            string            `json:"jobId"`
	JobTitle         string            `json:"jobTitle"`
	InstituteID      string            `json:"instituteId,omitempty"`
	RecruiterID      string            `json:"recruiterId"`
	CandidateID      string            `json:"candidateId"`
	Status           Status            `json:"status"`
	TimestampSeconds int64             `json:"timestamp"`
	StudentSnapshot  CandidateSnapshot `json:"studentSnapshot"`
	Repaired         bool              `json:"repaired,omitempty"`
}

// ApplyRequest carries the fields of a direct staff application.
type ApplyRequest struct {
	CandidateID string `json:"candidateId"`
	RecruiterID string `json:"recruiterId"`
	JobID       string `json:"jobId"`
	JobTitle    string `json:"jobTitle"`
	CompanyName string `json:"companyName"`
}

// BatchFailure records why one student of a batch was not applied.
type BatchFailure struct {
	StudentID string `json:"studentId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BatchResult reports a batch application. Failures do not roll back the applications created.
type BatchResult struct {
	Applications []Application `json:"applications"`
	Failures     []BatchFailure `json:"failures"`
}

// CandidateFilter narrows a recruiter's candidate listing.
type CandidateFilter struct {
	Search string
	Status Status
	JobID  string
}

var idNamespace = uuid.MustParse("6f1c2a4e-93b5-4d0c-8a57-1f3e9b7d2c10")

// applicationID is derived from the candidate and job so a pair maps to one application.
func applicationID(candidateKind, candidateID, jobID string) string {
	return uuid.NewSHA1(idNamespace, []byte("application/"+candidateKind+"/"+candidateID+"/"+jobID)).String()
}

// hiringRecordID is derived from one application revision. A revision is
// decided at most once, so it yields at most one record.
func hiringRecordID(applicationID, revision string) string {
	return uuid.NewSHA1(idNamespace, []byte("hiring-record/"+applicationID+"/"+revision)).String()
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
