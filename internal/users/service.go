package users

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/ids"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"go.uber.org/zap"
)

const (
	opRegister      = "users.register"
	opGet           = "users.get"
	opFindByEmail   = "users.find_by_email"
	opList          = "users.list"
	opSetBlocked    = "users.set_blocked"
	opSetVisibility = "users.set_visibility"
	opPutStudent    = "users.put_student"
	opGetStudent    = "users.get_student"
	opListStudents  = "users.list_students"
)

// Tables names the logical tables the directory reads and writes.
type Tables struct {
	Users    docstore.Table
	Students docstore.Table
}

// ServiceConfig describes the dependencies required by the user directory.
type ServiceConfig struct {
	Store      docstore.Store
	Tables     Tables
	Publisher  realtime.Publisher
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages accounts and institute-owned students.
type Service struct {
	store      docstore.Store
	tables     Tables
	publisher  realtime.Publisher
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
	emailCache sync.Map
}

// NewService constructs the user directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("users: document store required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("users: id provider required")
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
		publisher:  cfg.Publisher,
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// Register validates and stores a new account. An existing userId is never replaced.
func (s *Service) Register(ctx context.Context, user User) (User, error) {
	role, ok := ParseRole(string(user.Role))
	if !ok {
		return User{}, apperrors.Validation(opRegister, "invalid_role", "role must be staff, recruiter, institute, or admin")
	}
	user.Role = role
	user.FullName = normalize(user.FullName)
	user.Email = normalizeEmail(user.Email)
	if user.FullName == "" || user.Email == "" {
		return User{}, apperrors.Validation(opRegister, "missing_fields", "full name and email are required")
	}
	if _, err := s.FindByEmail(ctx, user.Email); err == nil {
		return User{}, apperrors.Conflict(opRegister, "email_taken", "email already registered")
	} else if !apperrors.Is(err, apperrors.KindNotFound) {
		return User{}, err
	}
	if normalize(user.UserID) == "" {
		userID, err := s.idProvider.NewID()
		if err != nil {
			return User{}, apperrors.TransientStore(opRegister, "id_generation_failed", err)
		}
		user.UserID = userID
	}
	nowSeconds := s.now().UTC().Unix()
	user.CreatedAtSeconds = nowSeconds
	user.UpdatedAtSeconds = nowSeconds
	user.Visible = true

	item, err := docstore.Marshal(user)
	if err != nil {
		return User{}, apperrors.TransientStore(opRegister, "marshal_failed", err)
	}
	if err := s.store.CreateItem(ctx, s.tables.Users, item); err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			return User{}, apperrors.Conflict(opRegister, "user_exists", "an account with that id already exists")
		}
		s.logError(opRegister, "put_failed", err, zap.String("user_id", user.UserID))
		return User{}, apperrors.FromStore(opRegister, err)
	}
	s.emailCache.Store(user.Email, user.UserID)
	return user, nil
}

// Get loads one account.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	item, err := s.store.GetItem(ctx, s.tables.Users, normalize(userID))
	if err != nil {
		return User{}, apperrors.FromStore(opGet, err)
	}
	var user User
	if err := docstore.Unmarshal(item, &user); err != nil {
		return User{}, apperrors.TransientStore(opGet, "decode_failed", err)
	}
	return user, nil
}

// FindByEmail returns the account registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return User{}, apperrors.Validation(opFindByEmail, "missing_email", "email is required")
	}
	if cached, ok := s.emailCache.Load(normalized); ok {
		if userID, ok := cached.(string); ok {
			user, err := s.Get(ctx, userID)
			if err == nil && user.Email == normalized {
				return user, nil
			}
			s.emailCache.Delete(normalized)
		}
	}
	matches, err := s.scanUsers(ctx, opFindByEmail, docstore.Filter{docstore.Where("email", normalized)})
	if err != nil {
		return User{}, err
	}
	if len(matches) == 0 {
		return User{}, apperrors.NotFound(opFindByEmail, "not_found", "no user with that email")
	}
	s.emailCache.Store(normalized, matches[0].UserID)
	return matches[0], nil
}

// ListAll returns every account.
func (s *Service) ListAll(ctx context.Context) ([]User, error) {
	return s.scanUsers(ctx, opList, nil)
}

// ListByRole returns every account holding role.
func (s *Service) ListByRole(ctx context.Context, role Role) ([]User, error) {
	return s.scanUsers(ctx, opList, docstore.Filter{docstore.Where("role", string(role))})
}

func (s *Service) scanUsers(ctx context.Context, operation string, filter docstore.Filter) ([]User, error) {
	items, err := s.store.ScanItems(ctx, s.tables.Users, filter)
	if err != nil {
		s.logError(operation, "scan_failed", err)
		return nil, apperrors.FromStore(operation, err)
	}
	found, err := docstore.UnmarshalAll[User](items)
	if err != nil {
		return nil, apperrors.TransientStore(operation, "decode_failed", err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].UserID < found[j].UserID })
	return found, nil
}

// SetBlocked sets the blocked flag. Setting the current value again succeeds.
func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) (User, error) {
	return s.updateFlag(ctx, opSetBlocked, userID, "blocked", blocked)
}

// SetVisibility toggles profile visibility and pushes a visibility_update event to the user.
func (s *Service) SetVisibility(ctx context.Context, userID string, visible bool) (User, error) {
	user, err := s.updateFlag(ctx, opSetVisibility, userID, "visible", visible)
	if err != nil {
		return User{}, err
	}
	if s.publisher != nil {
		payload := map[string]any{"userId": user.UserID, "visible": user.Visible}
		if err := s.publisher.Publish(ctx, realtime.ChannelForUser(user.UserID), realtime.EventVisibilityUpdate, payload); err != nil {
			s.logger.Debug("visibility push skipped", zap.String("user_id", user.UserID), zap.Error(err))
		}
	}
	return user, nil
}

func (s *Service) updateFlag(ctx context.Context, operation, userID, attribute string, value bool) (User, error) {
	changes := docstore.Item{
		attribute:   value,
		"updatedAt": s.now().UTC().Unix(),
	}
	item, err := s.store.UpdateItem(ctx, s.tables.Users, normalize(userID), changes)
	if err != nil {
		return User{}, apperrors.FromStore(operation, err)
	}
	var user User
	if err := docstore.Unmarshal(item, &user); err != nil {
		return User{}, apperrors.TransientStore(operation, "decode_failed", err)
	}
	return user, nil
}

// PutStudent creates or updates a student. Institutes always write under their
// own id and may only update students they already own; admins may write for
// any institute.
func (s *Service) PutStudent(ctx context.Context, actor Identity, student Student) (Student, error) {
	if actor.Role != RoleAdmin {
		student.InstituteID = actor.UserID
	}
	student.StudentID = normalize(student.StudentID)
	student.InstituteID = normalize(student.InstituteID)
	student.FullName = normalize(student.FullName)
	student.Email = normalizeEmail(student.Email)
	if student.InstituteID == "" || student.FullName == "" {
		return Student{}, apperrors.Validation(opPutStudent, "missing_fields", "institute and full name are required")
	}
	if student.StudentID != "" {
		updated, err := s.updateStudent(ctx, actor, student)
		if !errors.Is(err, docstore.ErrItemNotFound) {
			return updated, err
		}
	} else {
		studentID, err := s.idProvider.NewID()
		if err != nil {
			return Student{}, apperrors.TransientStore(opPutStudent, "id_generation_failed", err)
		}
		student.StudentID = studentID
	}
	student.CreatedAtSeconds = s.now().UTC().Unix()
	item, err := docstore.Marshal(student)
	if err != nil {
		return Student{}, apperrors.TransientStore(opPutStudent, "marshal_failed", err)
	}
	if err := s.store.CreateItem(ctx, s.tables.Students, item); err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			return Student{}, apperrors.Conflict(opPutStudent, "student_exists", "student was created concurrently")
		}
		s.logError(opPutStudent, "put_failed", err, zap.String("student_id", student.StudentID))
		return Student{}, apperrors.FromStore(opPutStudent, err)
	}
	return student, nil
}

// updateStudent rewrites the profile fields of an existing student. A missing
// row is returned as docstore.ErrItemNotFound so the caller can create it.
func (s *Service) updateStudent(ctx context.Context, actor Identity, student Student) (Student, error) {
	changes := docstore.Item{
		"instituteId": student.InstituteID,
		"fullName":    student.FullName,
		"email":       student.Email,
		"phone":       student.Phone,
		"degree":      student.Degree,
		"skills":      student.Skills,
	}
	var conditions []docstore.Condition
	if actor.Role != RoleAdmin {
		conditions = append(conditions, docstore.Where("instituteId", student.InstituteID))
	}
	item, err := s.store.UpdateItem(ctx, s.tables.Students, student.StudentID, changes, conditions...)
	switch {
	case errors.Is(err, docstore.ErrItemNotFound):
		return Student{}, err
	case errors.Is(err, docstore.ErrConditionFailed):
		s.logger.Warn("student write rejected",
			zap.String("operation", opPutStudent),
			zap.String("reason", "not_owner"),
			zap.String("student_id", student.StudentID),
			zap.String("actor_id", actor.UserID))
		return Student{}, apperrors.Forbidden(opPutStudent, "not_owner", "student belongs to another institute")
	case err != nil:
		s.logError(opPutStudent, "update_failed", err, zap.String("student_id", student.StudentID))
		return Student{}, apperrors.FromStore(opPutStudent, err)
	}
	var updated Student
	if err := docstore.Unmarshal(item, &updated); err != nil {
		return Student{}, apperrors.TransientStore(opPutStudent, "decode_failed", err)
	}
	return updated, nil
}

// GetStudent loads one student.
func (s *Service) GetStudent(ctx context.Context, studentID string) (Student, error) {
	item, err := s.store.GetItem(ctx, s.tables.Students, normalize(studentID))
	if err != nil {
		return Student{}, apperrors.FromStore(opGetStudent, err)
	}
	var student Student
	if err := docstore.Unmarshal(item, &student); err != nil {
		return Student{}, apperrors.TransientStore(opGetStudent, "decode_failed", err)
	}
	return student, nil
}

// ListStudentsByInstitute returns the students owned by an institute.
func (s *Service) ListStudentsByInstitute(ctx context.Context, instituteID string) ([]Student, error) {
	items, err := s.store.ScanItems(ctx, s.tables.Students, docstore.Filter{docstore.Where("instituteId", normalize(instituteID))})
	if err != nil {
		return nil, apperrors.FromStore(opListStudents, err)
	}
	students, err := docstore.UnmarshalAll[Student](items)
	if err != nil {
		return nil, apperrors.TransientStore(opListStudents, "decode_failed", err)
	}
	return students, nil
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
	s.logger.Error("users service error", attrs...)
}
