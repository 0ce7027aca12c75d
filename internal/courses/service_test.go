package courses

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/guard"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"go.uber.org/goleak"
)

var coursesTable = docstore.Table{Name: "courses", KeyAttribute: "courseId"}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("course-%d", p.next), nil
}

// countingStore counts and delays scans so concurrent callers overlap.
type countingStore struct {
	docstore.Store
	scans atomic.Int32
	delay time.Duration
}

func (s *countingStore) ScanItems(ctx context.Context, table docstore.Table, filter docstore.Filter) ([]docstore.Item, error) {
	s.scans.Add(1)
	time.Sleep(s.delay)
	return s.Store.ScanItems(ctx, table, filter)
}

func newCourseService(t *testing.T, store docstore.Store, guards *guard.Registry) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Table:      coursesTable,
		Guards:     guards,
		IDProvider: &sequenceIDs{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

var (
	instituteOne = users.Identity{UserID: "I1", Role: users.RoleInstitute}
	instituteTwo = users.Identity{UserID: "I2", Role: users.RoleInstitute}
)

func TestConcurrentListsOnMissingTableReadStoreOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &countingStore{Store: docstore.NewMemoryStore(), delay: 50 * time.Millisecond}
	guards := guard.NewRegistry(guard.RegistryConfig{})
	service := newCourseService(t, store, guards)

	var wg sync.WaitGroup
	results := make([][]Course, 5)
	wg.Add(len(results))
	for index := range results {
		go func(index int) {
			defer wg.Done()
			found, err := service.ListByInstitute(context.Background(), "I1")
			if err != nil {
				t.Errorf("list failed: %v", err)
			}
			results[index] = found
		}(index)
	}
	wg.Wait()

	if scans := store.scans.Load(); scans != 1 {
		t.Fatalf("expected exactly one store read, got %d", scans)
	}
	for index, found := range results {
		if len(found) != 0 {
			t.Fatalf("caller %d expected no courses, got %#v", index, found)
		}
	}
	if !guards.For(coursesTable.Name).KnownMissing() {
		t.Fatalf("expected courses table to be cached as missing")
	}
}

func TestCreateFailsFastUntilProvisionedThenLists(t *testing.T) {
	memory := docstore.NewMemoryStore()
	store := &countingStore{Store: memory}
	guards := guard.NewRegistry(guard.RegistryConfig{})
	service := newCourseService(t, store, guards)
	ctx := context.Background()

	if found := service.List(ctx); len(found) != 0 {
		t.Fatalf("expected empty list before provisioning")
	}
	_, err := service.Create(ctx, instituteOne, CourseRequest{Title: "Go Basics"})
	if !apperrors.Is(err, apperrors.KindTableUnavailable) {
		t.Fatalf("expected table unavailable, got %v", err)
	}

	if err := memory.CreateTable(ctx, coursesTable); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := service.Create(ctx, instituteOne, CourseRequest{Title: "Go Basics"}); !apperrors.Is(err, apperrors.KindTableUnavailable) {
		t.Fatalf("expected sticky unavailability before reset, got %v", err)
	}

	guards.Reset(coursesTable.Name)
	course, err := service.Create(ctx, instituteOne, CourseRequest{Title: "Go Basics", Duration: "6 weeks", Fee: 120, Mode: "online"})
	if err != nil {
		t.Fatalf("create after reset failed: %v", err)
	}
	if course.InstituteID != "I1" || course.Fee != 120 {
		t.Fatalf("unexpected course %#v", course)
	}
	found, err := service.ListByInstitute(ctx, "I1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(found) != 1 || found[0].Title != "Go Basics" || found[0].Mode != "online" {
		t.Fatalf("unexpected courses %#v", found)
	}
}

func TestUpdateAndDeleteEnforceOwnership(t *testing.T) {
	memory := docstore.NewMemoryStore()
	ctx := context.Background()
	if err := memory.CreateTable(ctx, coursesTable); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	service := newCourseService(t, memory, guard.NewRegistry(guard.RegistryConfig{}))

	course, err := service.Create(ctx, instituteOne, CourseRequest{Title: "Go Basics"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.Update(ctx, instituteTwo, course.CourseID, CourseRequest{Title: "Stolen"}); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}
	updated, err := service.Update(ctx, instituteOne, course.CourseID, CourseRequest{Title: "Go Advanced", Duration: "8 weeks"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != "Go Advanced" || updated.Duration != "8 weeks" || updated.InstituteID != "I1" {
		t.Fatalf("unexpected updated course %#v", updated)
	}
	if _, err := service.Update(ctx, instituteOne, "missing", CourseRequest{Title: "X"}); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found update, got %v", err)
	}

	if err := service.Delete(ctx, instituteTwo, course.CourseID); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := service.Delete(ctx, instituteOne, course.CourseID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if found := service.List(ctx); len(found) != 0 {
		t.Fatalf("expected no courses after delete, got %d", len(found))
	}
}

func TestCreateValidates(t *testing.T) {
	service := newCourseService(t, docstore.NewMemoryStore(), guard.NewRegistry(guard.RegistryConfig{}))
	ctx := context.Background()
	if _, err := service.Create(ctx, instituteOne, CourseRequest{}); !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	staff := users.Identity{UserID: "S1", Role: users.RoleStaff}
	if _, err := service.Create(ctx, staff, CourseRequest{Title: "X"}); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}
	if _, err := service.ListByInstitute(ctx, " "); !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error for blank institute, got %v", err)
	}
}
