// Package hiring implements the application lifecycle: apply, decide, and the
// append-only hiring records written for every decision.
package hiring

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/ids"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	opApply            = "hiring.apply"
	opApplyStudents    = "hiring.apply_students"
	opDecide           = "hiring.decide"
	opListCandidates   = "hiring.list_candidates"
	opRemoveCandidate  = "hiring.remove_candidate"
	opListRecords      = "hiring.list_records"
	opListApplications = "hiring.list_applications"
	opGetApplication   = "hiring.get_application"

	candidateKindStaff   = "staff"
	candidateKindStudent = "student"

	tracerName = "github.com/MarcoPoloResearchLab/jobbridge/internal/hiring"
)

// Directory resolves candidate profiles.
type Directory interface {
	Get(ctx context.Context, userID string) (users.User, error)
	GetStudent(ctx context.Context, studentID string) (users.Student, error)
}

// Notifier delivers a single-recipient notification.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message string) error
}

// Tables names the logical tables used by the hiring service.
type Tables struct {
	Jobs          docstore.Table
	Applications  docstore.Table
	HiringRecords docstore.Table
}

// ServiceConfig describes the dependencies required by the hiring service.
type ServiceConfig struct {
	Store      docstore.Store
	Tables     Tables
	Directory  Directory
	Notifier   Notifier
	Publisher  realtime.Publisher
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service coordinates jobs, applications, and hiring decisions.
type Service struct {
	store      docstore.Store
	tables     Tables
	directory  Directory
	notifier   Notifier
	publisher  realtime.Publisher
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewService constructs a hiring service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("hiring: document store required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("hiring: directory required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("hiring: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		tables:     cfg.Tables,
		directory:  cfg.Directory,
		notifier:   cfg.Notifier,
		publisher:  cfg.Publisher,
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// ApplyForJob creates an Applied application for the calling staff member.
func (s *Service) ApplyForJob(ctx context.Context, actor users.Identity, request ApplyRequest) (Application, error) {
	if actor.Role != users.RoleStaff {
		return Application{}, apperrors.Forbidden(opApply, "not_staff", "only staff members can apply")
	}
	candidateID := normalize(request.CandidateID)
	if candidateID == "" {
		candidateID = actor.UserID
	}
	if candidateID != actor.UserID {
		return Application{}, apperrors.Forbidden(opApply, "not_candidate", "staff can only apply for themselves")
	}
	application := Application{
		StaffID:     candidateID,
		RecruiterID: normalize(request.RecruiterID),
		JobID:       normalize(request.JobID),
		JobTitle:    normalize(request.JobTitle),
		CompanyName: normalize(request.CompanyName),
	}
	if application.RecruiterID == "" || application.JobID == "" || application.JobTitle == "" || application.CompanyName == "" {
		return Application{}, apperrors.Validation(opApply, "missing_fields", "recruiterId, jobId, jobTitle and companyName are required")
	}
	profile, err := s.directory.Get(ctx, candidateID)
	if err != nil {
		return Application{}, err
	}
	application.ApplicationID = applicationID(candidateKindStaff, candidateID, application.JobID)
	application.Candidate = snapshotFromUser(profile)
	return s.createApplication(ctx, opApply, application)
}

// ApplyStudentsToJob applies each student of the calling institute to jobID.
// Every student is handled independently; failures are reported per student.
func (s *Service) ApplyStudentsToJob(ctx context.Context, actor users.Identity, jobID string, studentIDs []string) (BatchResult, error) {
	if actor.Role != users.RoleInstitute {
		return BatchResult{}, apperrors.Forbidden(opApplyStudents, "not_institute", "only institutes can submit students")
	}
	if len(studentIDs) == 0 {
		return BatchResult{}, apperrors.Validation(opApplyStudents, "missing_students", "at least one student is required")
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Applications: []Application{}, Failures: []BatchFailure{}}
	seen := make(map[string]struct{}, len(studentIDs))
	for _, rawID := range studentIDs {
		studentID := normalize(rawID)
		if _, duplicate := seen[studentID]; duplicate {
			continue
		}
		seen[studentID] = struct{}{}
		application, err := s.applyStudent(ctx, actor, job, studentID)
		if err != nil {
			result.Failures = append(result.Failures, batchFailure(studentID, err))
			continue
		}
		result.Applications = append(result.Applications, application)
	}
	if len(result.Failures) > 0 {
		s.logger.Warn("batch application partially failed",
			zap.String("operation", opApplyStudents),
			zap.String("job_id", job.JobID),
			zap.String("institute_id", actor.UserID),
			zap.Int("applied", len(result.Applications)),
			zap.Int("failed", len(result.Failures)))
	}
	return result, nil
}

func (s *Service) applyStudent(ctx context.Context, actor users.Identity, job Job, studentID string) (Application, error) {
	if studentID == "" {
		return Application{}, apperrors.Validation(opApplyStudents, "missing_student", "student id is required")
	}
	student, err := s.directory.GetStudent(ctx, studentID)
	if err != nil {
		return Application{}, err
	}
	if student.InstituteID != actor.UserID {
		return Application{}, apperrors.Forbidden(opApplyStudents, "not_owner", "student belongs to another institute")
	}
	application := Application{
		ApplicationID: applicationID(candidateKindStudent, studentID, job.JobID),
		StudentID:     studentID,
		RecruiterID:   job.RecruiterID,
		InstituteID:   actor.UserID,
		JobID:         job.JobID,
		JobTitle:      job.Title,
		CompanyName:   job.CompanyName,
		Candidate:     snapshotFromStudent(student),
	}
	return s.createApplication(ctx, opApplyStudents, application)
}

func batchFailure(studentID string, err error) BatchFailure {
	failure := BatchFailure{StudentID: studentID, Code: "internal", Message: err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		failure.Code = appErr.Code()
		failure.Message = appErr.Message()
	}
	return failure
}

func (s *Service) createApplication(ctx context.Context, operation string, application Application) (Application, error) {
	revision, err := s.idProvider.NewID()
	if err != nil {
		return Application{}, apperrors.TransientStore(operation, "id_failed", err)
	}
	application.Revision = revision
	application.Status = StatusApplied
	application.AppliedAtSeconds = s.now().UTC().Unix()
	item, err := docstore.Marshal(application)
	if err != nil {
		return Application{}, apperrors.TransientStore(operation, "marshal_failed", err)
	}
	if err := s.store.CreateItem(ctx, s.tables.Applications, item); err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			return Application{}, apperrors.Conflict(operation, "already_applied", "candidate already applied to this job")
		}
		s.logError(operation, "put_failed", err, zap.String("application_id", application.ApplicationID))
		return Application{}, apperrors.FromStore(operation, err)
	}
	return application, nil
}

// GetApplication loads one application.
func (s *Service) GetApplication(ctx context.Context, applicationID string) (Application, error) {
	item, err := s.store.GetItem(ctx, s.tables.Applications, normalize(applicationID))
	if err != nil {
		return Application{}, apperrors.FromStore(opGetApplication, err)
	}
	var application Application
	if err := docstore.Unmarshal(item, &application); err != nil {
		return Application{}, apperrors.TransientStore(opGetApplication, "decode_failed", err)
	}
	return application, nil
}

// Decide moves an Applied application to Hired or Rejected and appends the
// matching hiring record. The status write happens first; a crash before the
// record write leaves a terminal application without a record, which the
// Reconciler repairs.
func (s *Service) Decide(ctx context.Context, actor users.Identity, applicationID string, decision Status) (HiringRecord, error) {
	ctx, span := s.tracer.Start(ctx, opDecide, trace.WithAttributes(
		attribute.String("application.id", applicationID),
		attribute.String("decision", string(decision)),
	))
	defer span.End()

	record, err := s.decide(ctx, actor, applicationID, decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
	}
	return record, err
}

func (s *Service) decide(ctx context.Context, actor users.Identity, applicationID string, decision Status) (HiringRecord, error) {
	if !decision.Terminal() {
		return HiringRecord{}, apperrors.Validation(opDecide, "invalid_decision", "decision must be Hired or Rejected")
	}
	application, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return HiringRecord{}, err
	}
	if !canManage(actor, application) {
		return HiringRecord{}, apperrors.Forbidden(opDecide, "not_owner", "only the job's recruiter can decide")
	}
	if application.Status != StatusApplied {
		return HiringRecord{}, apperrors.Conflict(opDecide, "already_decided", "application already decided")
	}

	decidedAt := s.now().UTC().Unix()
	changes := docstore.Item{
		"status":    string(decision),
		"decidedAt": decidedAt,
		"decidedBy": actor.UserID,
	}
	conditions := []docstore.Condition{docstore.Where("status", string(StatusApplied))}
	if application.Revision != "" {
		// A remove and re-apply since the load changes the revision.
		conditions = append(conditions, docstore.Where("revision", application.Revision))
	}
	updated, err := s.store.UpdateItem(ctx, s.tables.Applications, application.ApplicationID, changes, conditions...)
	if err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			return HiringRecord{}, apperrors.Conflict(opDecide, "already_decided", "application already decided")
		}
		s.logError(opDecide, "status_write_failed", err, zap.String("application_id", application.ApplicationID))
		return HiringRecord{}, apperrors.FromStore(opDecide, err)
	}
	if err := docstore.Unmarshal(updated, &application); err != nil {
		return HiringRecord{}, apperrors.TransientStore(opDecide, "decode_failed", err)
	}

	record := s.buildRecord(ctx, application, decidedAt, false)
	switch err := s.createRecord(ctx, record); {
	case errors.Is(err, docstore.ErrConditionFailed):
		// The reconciler wrote this revision's record between our two writes.
		existing, getErr := s.getRecord(ctx, record.HiringRecordID)
		if getErr != nil {
			return HiringRecord{}, apperrors.FromStore(opDecide, getErr)
		}
		record = existing
	case err != nil:
		s.logError(opDecide, "record_write_failed", err,
			zap.String("application_id", application.ApplicationID),
			zap.String("status", string(decision)))
		return HiringRecord{}, apperrors.FromStore(opDecide, err)
	}

	s.announceDecision(ctx, application)
	return record, nil
}

// buildRecord snapshots the candidate's current profile, falling back to the
// apply-time snapshot when the profile can no longer be loaded.
func (s *Service) buildRecord(ctx context.Context, application Application, timestamp int64, repaired bool) HiringRecord {
	snapshot := application.Candidate
	if application.IsStudent() {
		if student, err := s.directory.GetStudent(ctx, application.StudentID); err == nil {
			snapshot = snapshotFromStudent(student)
		} else {
			s.logger.Warn("using apply-time snapshot", zap.String("student_id", application.StudentID), zap.Error(err))
		}
	} else {
		if user, err := s.directory.Get(ctx, application.StaffID); err == nil {
			snapshot = snapshotFromUser(user)
		} else {
			s.logger.Warn("using apply-time snapshot", zap.String("staff_id", application.StaffID), zap.Error(err))
		}
	}
	return HiringRecord{
		HiringRecordID:   hiringRecordID(application.ApplicationID, application.Revision),
		ApplicationID:    application.ApplicationID,
		Revision:         application.Revision,
		JobID:            application.JobID,
		JobTitle:         application.JobTitle,
		InstituteID:      application.InstituteID,
		RecruiterID:      application.RecruiterID,
		CandidateID:      application.CandidateID(),
		Status:           application.Status,
		TimestampSeconds: timestamp,
		StudentSnapshot:  snapshot,
		Repaired:         repaired,
	}
}

// createRecord appends record. Records are never overwritten: an existing
// record under the same id fails with docstore.ErrConditionFailed.
func (s *Service) createRecord(ctx context.Context, record HiringRecord) error {
	item, err := docstore.Marshal(record)
	if err != nil {
		return err
	}
	return s.store.CreateItem(ctx, s.tables.HiringRecords, item)
}

func (s *Service) getRecord(ctx context.Context, recordID string) (HiringRecord, error) {
	item, err := s.store.GetItem(ctx, s.tables.HiringRecords, recordID)
	if err != nil {
		return HiringRecord{}, err
	}
	var record HiringRecord
	if err := docstore.Unmarshal(item, &record); err != nil {
		return HiringRecord{}, err
	}
	return record, nil
}

// announceDecision notifies the candidate, or the submitting institute for
// students, and pushes an application_decided event. Failures are logged only.
func (s *Service) announceDecision(ctx context.Context, application Application) {
	recipient := application.StaffID
	if application.IsStudent() {
		recipient = application.InstituteID
	}
	if recipient == "" {
		return
	}
	title := "Application " + strings.ToLower(string(application.Status))
	message := application.Candidate.FullName + " was " + strings.ToLower(string(application.Status)) +
		" for " + application.JobTitle + " at " + application.CompanyName
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, recipient, title, message); err != nil {
			s.logger.Warn("decision notification failed",
				zap.String("operation", opDecide),
				zap.String("reason", "notify_failed"),
				zap.String("application_id", application.ApplicationID),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		payload := map[string]any{
			"applicationId": application.ApplicationID,
			"jobId":         application.JobID,
			"status":        application.Status,
		}
		if err := s.publisher.Publish(ctx, realtime.ChannelForUser(recipient), realtime.EventApplicationUpdate, payload); err != nil {
			s.logger.Debug("decision push skipped", zap.String("application_id", application.ApplicationID), zap.Error(err))
		}
	}
}

// ListCandidates returns the recruiter's applications, newest first. Search
// matches the apply-time candidate name and skills, case-insensitively.
func (s *Service) ListCandidates(ctx context.Context, actor users.Identity, filter CandidateFilter) ([]Application, error) {
	var conditions docstore.Filter
	switch actor.Role {
	case users.RoleRecruiter:
		conditions = append(conditions, docstore.Where("recruiterId", actor.UserID))
	case users.RoleAdmin:
	default:
		return nil, apperrors.Forbidden(opListCandidates, "not_recruiter", "only recruiters can list candidates")
	}
	if filter.Status != "" {
		conditions = append(conditions, docstore.Where("status", string(filter.Status)))
	}
	if jobID := normalize(filter.JobID); jobID != "" {
		conditions = append(conditions, docstore.Where("jobId", jobID))
	}
	applications, err := s.scanApplications(ctx, opListCandidates, conditions)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(normalize(filter.Search))
	if search == "" {
		return applications, nil
	}
	matched := applications[:0]
	for _, application := range applications {
		if matchesSearch(application.Candidate, search) {
			matched = append(matched, application)
		}
	}
	return matched, nil
}

func matchesSearch(snapshot CandidateSnapshot, search string) bool {
	if strings.Contains(strings.ToLower(snapshot.FullName), search) {
		return true
	}
	for _, skill := range snapshot.Skills {
		if strings.Contains(strings.ToLower(skill), search) {
			return true
		}
	}
	return false
}

// ListApplicationsForCandidate returns the caller's own applications, or the
// applications of an institute's students.
func (s *Service) ListApplicationsForCandidate(ctx context.Context, actor users.Identity) ([]Application, error) {
	switch actor.Role {
	case users.RoleStaff:
		return s.scanApplications(ctx, opListApplications, docstore.Filter{docstore.Where("staffId", actor.UserID)})
	case users.RoleInstitute:
		return s.scanApplications(ctx, opListApplications, docstore.Filter{docstore.Where("instituteId", actor.UserID)})
	default:
		return nil, apperrors.Forbidden(opListApplications, "not_candidate", "only staff and institutes have applications")
	}
}

func (s *Service) scanApplications(ctx context.Context, operation string, filter docstore.Filter) ([]Application, error) {
	items, err := s.store.ScanItems(ctx, s.tables.Applications, filter)
	if err != nil {
		s.logError(operation, "scan_failed", err)
		return nil, apperrors.FromStore(operation, err)
	}
	applications, err := docstore.UnmarshalAll[Application](items)
	if err != nil {
		return nil, apperrors.TransientStore(operation, "decode_failed", err)
	}
	sort.SliceStable(applications, func(i, j int) bool {
		if applications[i].AppliedAtSeconds != applications[j].AppliedAtSeconds {
			return applications[i].AppliedAtSeconds > applications[j].AppliedAtSeconds
		}
		return applications[i].ApplicationID < applications[j].ApplicationID
	})
	return applications, nil
}

// RemoveCandidate deletes an application from the recruiter's view. This is an
// administrative override: no hiring record is written.
func (s *Service) RemoveCandidate(ctx context.Context, actor users.Identity, applicationID string) error {
	application, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	if !canManage(actor, application) {
		return apperrors.Forbidden(opRemoveCandidate, "not_owner", "only the job's recruiter can remove candidates")
	}
	if err := s.store.DeleteItem(ctx, s.tables.Applications, application.ApplicationID); err != nil {
		return apperrors.FromStore(opRemoveCandidate, err)
	}
	s.logger.Warn("candidate removed without hiring record",
		zap.String("operation", opRemoveCandidate),
		zap.String("reason", "audit_bypass"),
		zap.String("application_id", application.ApplicationID),
		zap.String("status", string(application.Status)),
		zap.String("removed_by", actor.UserID))
	return nil
}

// ListHiringRecords returns the records visible to the caller, newest first.
// Records are never updated or deleted.
func (s *Service) ListHiringRecords(ctx context.Context, actor users.Identity) ([]HiringRecord, error) {
	var filter docstore.Filter
	switch actor.Role {
	case users.RoleRecruiter:
		filter = docstore.Filter{docstore.Where("recruiterId", actor.UserID)}
	case users.RoleInstitute:
		filter = docstore.Filter{docstore.Where("instituteId", actor.UserID)}
	case users.RoleAdmin:
	default:
		return nil, apperrors.Forbidden(opListRecords, "not_allowed", "hiring records are visible to recruiters and institutes")
	}
	items, err := s.store.ScanItems(ctx, s.tables.HiringRecords, filter)
	if err != nil {
		s.logError(opListRecords, "scan_failed", err)
		return nil, apperrors.FromStore(opListRecords, err)
	}
	records, err := docstore.UnmarshalAll[HiringRecord](items)
	if err != nil {
		return nil, apperrors.TransientStore(opListRecords, "decode_failed", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].TimestampSeconds != records[j].TimestampSeconds {
			return records[i].TimestampSeconds > records[j].TimestampSeconds
		}
		return records[i].HiringRecordID < records[j].HiringRecordID
	})
	return records, nil
}

func canManage(actor users.Identity, application Application) bool {
	switch actor.Role {
	case users.RoleAdmin:
		return true
	case users.RoleRecruiter:
		return actor.UserID != "" && actor.UserID == application.RecruiterID
	default:
		return false
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("hiring service error", attrs...)
}
