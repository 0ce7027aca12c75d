// Package courses manages institute course catalogs. Every table access goes
// through the availability guard, so an unprovisioned table reads as empty.
package courses

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/guard"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/ids"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"go.uber.org/zap"
)

const (
	opCreate = "courses.create"
	opUpdate = "courses.update"
	opDelete = "courses.delete"
	opList   = "courses.list"
)

// Course is one offering of an institute.
type Course struct {
	CourseID         string  `json:"courseId"`
	InstituteID      string  `json:"instituteId"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	Duration         string  `json:"duration,omitempty"`
	Fee              float64 `json:"fee,omitempty"`
	Mode             string  `json:"mode,omitempty"`
	CreatedAtSeconds int64   `json:"createdAt"`
	UpdatedAtSeconds int64   `json:"updatedAt"`
}

// CourseRequest carries the editable fields of a course.
type CourseRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    string  `json:"duration"`
	Fee         float64 `json:"fee"`
	Mode        string  `json:"mode"`
}

// ServiceConfig describes the dependencies required by the course service.
type ServiceConfig struct {
	Store      docstore.Store
	Table      docstore.Table
	Guards     *guard.Registry
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages courses.
type Service struct {
	store      docstore.Store
	table      docstore.Table
	guard      *guard.Guard
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs a course service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("courses: document store required")
	}
	if cfg.Guards == nil {
		return nil, errors.New("courses: guard registry required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("courses: id provider required")
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
		table:      cfg.Table,
		guard:      cfg.Guards.For(cfg.Table.Name),
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// ListByInstitute returns the institute's courses, or nothing while the table is unavailable.
func (s *Service) ListByInstitute(ctx context.Context, instituteID string) ([]Course, error) {
	instituteID = strings.TrimSpace(instituteID)
	if instituteID == "" {
		return nil, apperrors.Validation(opList, "missing_institute", "institute id is required")
	}
	filter := docstore.Filter{docstore.Where("instituteId", instituteID)}
	items := s.guard.Read(ctx, "instituteId="+instituteID, func(ctx context.Context) ([]docstore.Item, error) {
		return s.store.ScanItems(ctx, s.table, filter)
	})
	return s.decode(items), nil
}

// List returns every course.
func (s *Service) List(ctx context.Context) []Course {
	items := s.guard.Read(ctx, "all", func(ctx context.Context) ([]docstore.Item, error) {
		return s.store.ScanItems(ctx, s.table, nil)
	})
	return s.decode(items)
}

func (s *Service) decode(items []docstore.Item) []Course {
	found := make([]Course, 0, len(items))
	for _, item := range items {
		var course Course
		if err := docstore.Unmarshal(item, &course); err != nil {
			s.logger.Warn("skipping undecodable course", zap.String("operation", opList), zap.Error(err))
			continue
		}
		found = append(found, course)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].CreatedAtSeconds != found[j].CreatedAtSeconds {
			return found[i].CreatedAtSeconds > found[j].CreatedAtSeconds
		}
		return found[i].CourseID < found[j].CourseID
	})
	return found
}

// Create stores a course owned by the calling institute.
func (s *Service) Create(ctx context.Context, actor users.Identity, request CourseRequest) (Course, error) {
	if actor.Role != users.RoleInstitute {
		return Course{}, apperrors.Forbidden(opCreate, "not_institute", "only institutes can create courses")
	}
	if strings.TrimSpace(request.Title) == "" {
		return Course{}, apperrors.Validation(opCreate, "missing_title", "title is required")
	}
	if request.Fee < 0 {
		return Course{}, apperrors.Validation(opCreate, "invalid_fee", "fee cannot be negative")
	}
	courseID, err := s.idProvider.NewID()
	if err != nil {
		return Course{}, apperrors.TransientStore(opCreate, "id_generation_failed", err)
	}
	nowSeconds := s.now().UTC().Unix()
	course := applyRequest(Course{
		CourseID:         courseID,
		InstituteID:      actor.UserID,
		CreatedAtSeconds: nowSeconds,
	}, request)
	course.UpdatedAtSeconds = nowSeconds

	item, err := docstore.Marshal(course)
	if err != nil {
		return Course{}, apperrors.TransientStore(opCreate, "marshal_failed", err)
	}
	err = s.guard.Write(ctx, func(ctx context.Context) error {
		return s.store.CreateItem(ctx, s.table, item)
	})
	if err != nil {
		return Course{}, apperrors.FromStore(opCreate, err)
	}
	return course, nil
}

// Update replaces the editable fields of a course owned by the calling institute.
func (s *Service) Update(ctx context.Context, actor users.Identity, courseID string, request CourseRequest) (Course, error) {
	if actor.Role != users.RoleInstitute {
		return Course{}, apperrors.Forbidden(opUpdate, "not_institute", "only institutes can edit courses")
	}
	if strings.TrimSpace(request.Title) == "" {
		return Course{}, apperrors.Validation(opUpdate, "missing_title", "title is required")
	}
	changes, err := docstore.MarshalChanges(applyRequest(Course{UpdatedAtSeconds: s.now().UTC().Unix()}, request),
		"title", "description", "duration", "fee", "mode", "updatedAt")
	if err != nil {
		return Course{}, apperrors.TransientStore(opUpdate, "marshal_failed", err)
	}
	var updated docstore.Item
	err = s.guard.Write(ctx, func(ctx context.Context) error {
		var writeErr error
		updated, writeErr = s.store.UpdateItem(ctx, s.table, strings.TrimSpace(courseID), changes,
			docstore.Where("instituteId", actor.UserID))
		return writeErr
	})
	if err != nil {
		if errors.Is(err, docstore.ErrConditionFailed) {
			return Course{}, apperrors.Forbidden(opUpdate, "not_owner", "course belongs to another institute")
		}
		return Course{}, apperrors.FromStore(opUpdate, err)
	}
	var course Course
	if err := docstore.Unmarshal(updated, &course); err != nil {
		return Course{}, apperrors.TransientStore(opUpdate, "decode_failed", err)
	}
	return course, nil
}

// Delete removes a course owned by the calling institute.
func (s *Service) Delete(ctx context.Context, actor users.Identity, courseID string) error {
	if actor.Role != users.RoleInstitute && actor.Role != users.RoleAdmin {
		return apperrors.Forbidden(opDelete, "not_institute", "only institutes can delete courses")
	}
	courseID = strings.TrimSpace(courseID)
	err := s.guard.Write(ctx, func(ctx context.Context) error {
		item, err := s.store.GetItem(ctx, s.table, courseID)
		if err != nil {
			return err
		}
		if owner, _ := item["instituteId"].(string); actor.Role != users.RoleAdmin && owner != actor.UserID {
			return apperrors.Forbidden(opDelete, "not_owner", "course belongs to another institute")
		}
		return s.store.DeleteItem(ctx, s.table, courseID)
	})
	if err != nil {
		return apperrors.FromStore(opDelete, err)
	}
	return nil
}

func applyRequest(course Course, request CourseRequest) Course {
	course.Title = strings.TrimSpace(request.Title)
	course.Description = strings.TrimSpace(request.Description)
	course.Duration = strings.TrimSpace(request.Duration)
	course.Fee = request.Fee
	course.Mode = strings.TrimSpace(request.Mode)
	return course
}
