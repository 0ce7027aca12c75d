package hiring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
)

var testTables = Tables{
	Jobs:          docstore.Table{Name: "jobs", KeyAttribute: "jobId"},
	Applications:  docstore.Table{Name: "applications", KeyAttribute: "applicationId"},
	HiringRecords: docstore.Table{Name: "hiring_records", KeyAttribute: "hiringRecordId"},
}

var directoryTables = users.Tables{
	Users:    docstore.Table{Name: "users", KeyAttribute: "userId"},
	Students: docstore.Table{Name: "students", KeyAttribute: "studentId"},
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type notifyCall struct {
	userID  string
	title   string
	message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{userID: userID, title: title, message: message})
	return n.err
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type hiringFixture struct {
	store      docstore.Store
	directory  *users.Service
	service    *Service
	notifier   *recordingNotifier
	dispatcher *realtime.Dispatcher
	recruiter  users.Identity
	staff      users.Identity
	institute  users.Identity
	job        Job
}

func newHiringFixture(t *testing.T) *hiringFixture {
	t.Helper()
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	for _, table := range []docstore.Table{
		testTables.Jobs, testTables.Applications, testTables.HiringRecords,
		directoryTables.Users, directoryTables.Students,
	} {
		if err := store.CreateTable(ctx, table); err != nil {
			t.Fatalf("create table %s failed: %v", table.Name, err)
		}
	}
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	idProvider := &sequenceIDs{}
	dispatcher := realtime.NewDispatcher()

	directory, err := users.NewService(users.ServiceConfig{
		Store:      store,
		Tables:     directoryTables,
		IDProvider: idProvider,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Store:      store,
		Tables:     testTables,
		Directory:  directory,
		Notifier:   notifier,
		Publisher:  dispatcher,
		IDProvider: idProvider,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to create hiring service: %v", err)
	}

	recruiter := registerUser(t, directory, users.User{Role: users.RoleRecruiter, FullName: "Rita Recruiter", Email: "r1@example.com"})
	staff := registerUser(t, directory, users.User{Role: users.RoleStaff, FullName: "Sam Staff", Email: "s1@example.com", Skills: []string{"Go", "SQL"}})
	institute := registerUser(t, directory, users.User{Role: users.RoleInstitute, FullName: "Tech Institute", Email: "inst@example.com"})

	job, err := service.CreateJob(ctx, recruiter, JobRequest{Title: "Engineer", CompanyName: "Acme"})
	if err != nil {
		t.Fatalf("create job failed: %v", err)
	}
	return &hiringFixture{
		store:      store,
		directory:  directory,
		service:    service,
		notifier:   notifier,
		dispatcher: dispatcher,
		recruiter:  recruiter,
		staff:      staff,
		institute:  institute,
		job:        job,
	}
}

func registerUser(t *testing.T, directory *users.Service, user users.User) users.Identity {
	t.Helper()
	registered, err := directory.Register(context.Background(), user)
	if err != nil {
		t.Fatalf("register %s failed: %v", user.Email, err)
	}
	return users.Identity{UserID: registered.UserID, Role: registered.Role}
}

func (f *hiringFixture) applyStaff(t *testing.T) Application {
	t.Helper()
	application, err := f.service.ApplyForJob(context.Background(), f.staff, ApplyRequest{
		RecruiterID: f.recruiter.UserID,
		JobID:       f.job.JobID,
		JobTitle:    "Engineer",
		CompanyName: "Acme",
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	return application
}

func TestApplyThenHireWritesRecordAndNotifies(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application := fixture.applyStaff(t)
	if application.Status != StatusApplied || application.StaffID != fixture.staff.UserID {
		t.Fatalf("unexpected application %#v", application)
	}

	stream, cleanup := fixture.dispatcher.Subscribe(ctx, realtime.ChannelForUser(fixture.staff.UserID))
	defer cleanup()

	record, err := fixture.service.Decide(ctx, fixture.recruiter, application.ApplicationID, StatusHired)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if record.Status != StatusHired || record.StudentSnapshot.FullName != "Sam Staff" {
		t.Fatalf("unexpected record %#v", record)
	}
	if len(record.StudentSnapshot.Skills) != 2 || record.StudentSnapshot.Skills[0] != "Go" {
		t.Fatalf("expected snapshot skills, got %#v", record.StudentSnapshot.Skills)
	}

	stored, err := fixture.service.GetApplication(ctx, application.ApplicationID)
	if err != nil {
		t.Fatalf("get application failed: %v", err)
	}
	if stored.Status != StatusHired || stored.DecidedBy != fixture.recruiter.UserID {
		t.Fatalf("unexpected stored application %#v", stored)
	}

	calls := fixture.notifier.snapshot()
	if len(calls) != 1 || calls[0].userID != fixture.staff.UserID {
		t.Fatalf("expected one notification for the candidate, got %#v", calls)
	}
	select {
	case message := <-stream:
		if message.Event != realtime.EventApplicationUpdate {
			t.Fatalf("unexpected event %q", message.Event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected application_decided event")
	}

	_, err = fixture.service.Decide(ctx, fixture.recruiter, application.ApplicationID, StatusRejected)
	if !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict on second decision, got %v", err)
	}
	records, err := fixture.service.ListHiringRecords(ctx, fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one hiring record, got %d", len(records))
	}
}

func TestDuplicateApplicationConflicts(t *testing.T) {
	fixture := newHiringFixture(t)
	fixture.applyStaff(t)
	_, err := fixture.service.ApplyForJob(context.Background(), fixture.staff, ApplyRequest{
		RecruiterID: fixture.recruiter.UserID,
		JobID:       fixture.job.JobID,
		JobTitle:    "Engineer",
		CompanyName: "Acme",
	})
	if !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict for duplicate application, got %v", err)
	}
}

func TestApplyValidatesAndAuthorizes(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()

	_, err := fixture.service.ApplyForJob(ctx, fixture.staff, ApplyRequest{JobID: fixture.job.JobID})
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = fixture.service.ApplyForJob(ctx, fixture.staff, ApplyRequest{
		CandidateID: "someone-else",
		RecruiterID: fixture.recruiter.UserID,
		JobID:       fixture.job.JobID,
		JobTitle:    "Engineer",
		CompanyName: "Acme",
	})
	if !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden when applying for another user, got %v", err)
	}
	_, err = fixture.service.ApplyForJob(ctx, fixture.recruiter, ApplyRequest{})
	if !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden for recruiter apply, got %v", err)
	}
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	fixture := newHiringFixture(t)
	application := fixture.applyStaff(t)

	const deciders = 6
	var wg sync.WaitGroup
	errs := make([]error, deciders)
	wg.Add(deciders)
	for index := 0; index < deciders; index++ {
		go func(index int) {
			defer wg.Done()
			decision := StatusHired
			if index%2 == 1 {
				decision = StatusRejected
			}
			_, errs[index] = fixture.service.Decide(context.Background(), fixture.recruiter, application.ApplicationID, decision)
		}(index)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperrors.Is(err, apperrors.KindConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful decision, got %d", successes)
	}
	records, err := fixture.service.ListHiringRecords(context.Background(), fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one hiring record, got %d", len(records))
	}
}

func TestDecideRequiresOwningRecruiter(t *testing.T) {
	fixture := newHiringFixture(t)
	application := fixture.applyStaff(t)
	other := registerUser(t, fixture.directory, users.User{Role: users.RoleRecruiter, FullName: "Other", Email: "r2@example.com"})
	ctx := context.Background()

	if _, err := fixture.service.Decide(ctx, other, application.ApplicationID, StatusHired); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden for foreign recruiter, got %v", err)
	}
	if _, err := fixture.service.Decide(ctx, fixture.recruiter, "missing", StatusHired); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := fixture.service.Decide(ctx, fixture.recruiter, application.ApplicationID, StatusApplied); !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error for non-terminal decision, got %v", err)
	}
}

func TestDecisionSurvivesNotificationFailure(t *testing.T) {
	fixture := newHiringFixture(t)
	fixture.notifier.err = errors.New("notifications down")
	application := fixture.applyStaff(t)

	if _, err := fixture.service.Decide(context.Background(), fixture.recruiter, application.ApplicationID, StatusRejected); err != nil {
		t.Fatalf("expected decision to succeed despite notifier failure, got %v", err)
	}
}

func TestBatchApplyIsPerStudent(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()

	own, err := fixture.directory.PutStudent(ctx, fixture.institute, users.Student{FullName: "Lee", Skills: []string{"Python"}})
	if err != nil {
		t.Fatalf("put student failed: %v", err)
	}
	foreign, err := fixture.directory.PutStudent(ctx, users.Identity{UserID: "other-institute", Role: users.RoleInstitute}, users.Student{FullName: "Bo"})
	if err != nil {
		t.Fatalf("put student failed: %v", err)
	}

	result, err := fixture.service.ApplyStudentsToJob(ctx, fixture.institute, fixture.job.JobID,
		[]string{own.StudentID, foreign.StudentID, "ghost", own.StudentID})
	if err != nil {
		t.Fatalf("batch apply failed: %v", err)
	}
	if len(result.Applications) != 1 || result.Applications[0].StudentID != own.StudentID {
		t.Fatalf("expected one application for the owned student, got %#v", result.Applications)
	}
	if result.Applications[0].InstituteID != fixture.institute.UserID || result.Applications[0].RecruiterID != fixture.recruiter.UserID {
		t.Fatalf("unexpected batch application %#v", result.Applications[0])
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected two failures, got %#v", result.Failures)
	}

	again, err := fixture.service.ApplyStudentsToJob(ctx, fixture.institute, fixture.job.JobID, []string{own.StudentID})
	if err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if len(again.Applications) != 0 || len(again.Failures) != 1 || again.Failures[0].Code != "hiring.apply_students.already_applied" {
		t.Fatalf("expected duplicate to be reported per student, got %#v", again)
	}

	if _, err := fixture.service.ApplyStudentsToJob(ctx, fixture.staff, fixture.job.JobID, []string{own.StudentID}); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden for staff batch apply, got %v", err)
	}
}

func TestStudentDecisionNotifiesInstitute(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()
	student, err := fixture.directory.PutStudent(ctx, fixture.institute, users.Student{FullName: "Lee"})
	if err != nil {
		t.Fatalf("put student failed: %v", err)
	}
	result, err := fixture.service.ApplyStudentsToJob(ctx, fixture.institute, fixture.job.JobID, []string{student.StudentID})
	if err != nil || len(result.Applications) != 1 {
		t.Fatalf("batch apply failed: %v %#v", err, result)
	}
	record, err := fixture.service.Decide(ctx, fixture.recruiter, result.Applications[0].ApplicationID, StatusHired)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if record.InstituteID != fixture.institute.UserID || record.StudentSnapshot.FullName != "Lee" {
		t.Fatalf("unexpected record %#v", record)
	}
	calls := fixture.notifier.snapshot()
	if len(calls) != 1 || calls[0].userID != fixture.institute.UserID {
		t.Fatalf("expected institute notification, got %#v", calls)
	}
	visible, err := fixture.service.ListHiringRecords(ctx, fixture.institute)
	if err != nil {
		t.Fatalf("list institute records failed: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("expected institute to see its record, got %d", len(visible))
	}
}

func TestListCandidatesSearchesSnapshot(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()
	fixture.applyStaff(t)

	found, err := fixture.service.ListCandidates(ctx, fixture.recruiter, CandidateFilter{Search: "sql"})
	if err != nil {
		t.Fatalf("list candidates failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected skill search to match, got %d", len(found))
	}
	found, err = fixture.service.ListCandidates(ctx, fixture.recruiter, CandidateFilter{Search: "SAM"})
	if err != nil || len(found) != 1 {
		t.Fatalf("expected name search to match, got %d (%v)", len(found), err)
	}
	found, err = fixture.service.ListCandidates(ctx, fixture.recruiter, CandidateFilter{Search: "rust"})
	if err != nil || len(found) != 0 {
		t.Fatalf("expected no match, got %d (%v)", len(found), err)
	}
	found, err = fixture.service.ListCandidates(ctx, fixture.recruiter, CandidateFilter{Status: StatusHired})
	if err != nil || len(found) != 0 {
		t.Fatalf("expected status filter to exclude applied candidates, got %d (%v)", len(found), err)
	}
	if _, err := fixture.service.ListCandidates(ctx, fixture.staff, CandidateFilter{}); !apperrors.Is(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}
}

func TestRemoveCandidateWritesNoRecord(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()
	application := fixture.applyStaff(t)

	if err := fixture.service.RemoveCandidate(ctx, fixture.recruiter, application.ApplicationID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	candidates, err := fixture.service.ListCandidates(ctx, fixture.recruiter, CandidateFilter{})
	if err != nil {
		t.Fatalf("list candidates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected removed candidate to disappear, got %d", len(candidates))
	}
	records, err := fixture.service.ListHiringRecords(ctx, fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no hiring record for removal, got %d", len(records))
	}
}

func TestReconcilerRepairsMissingRecordsOnce(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()
	application := fixture.applyStaff(t)

	// Simulate a crash between the status write and the record write.
	if _, err := fixture.store.UpdateItem(ctx, testTables.Applications, application.ApplicationID, docstore.Item{
		"status":    string(StatusHired),
		"decidedAt": int64(1700000100),
		"decidedBy": fixture.recruiter.UserID,
	}); err != nil {
		t.Fatalf("status write failed: %v", err)
	}

	reconciler := NewReconciler(fixture.service, nil)
	report, err := reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Scanned != 1 || report.Terminal != 1 || report.Repaired != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %#v", report)
	}
	records, err := fixture.service.ListHiringRecords(ctx, fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 1 || !records[0].Repaired || records[0].TimestampSeconds != 1700000100 {
		t.Fatalf("unexpected repaired records %#v", records)
	}

	report, err = reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if report.Repaired != 0 {
		t.Fatalf("expected second pass to repair nothing, got %#v", report)
	}
}

func TestReapplyAfterRemovalKeepsEarlierRecords(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()

	first := fixture.applyStaff(t)
	hired, err := fixture.service.Decide(ctx, fixture.recruiter, first.ApplicationID, StatusHired)
	if err != nil {
		t.Fatalf("first decide failed: %v", err)
	}
	if err := fixture.service.RemoveCandidate(ctx, fixture.recruiter, first.ApplicationID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	second := fixture.applyStaff(t)
	if second.ApplicationID != first.ApplicationID || second.Revision == first.Revision {
		t.Fatalf("expected a new revision of the same application, got %q/%q and %q/%q",
			first.ApplicationID, first.Revision, second.ApplicationID, second.Revision)
	}
	rejected, err := fixture.service.Decide(ctx, fixture.recruiter, second.ApplicationID, StatusRejected)
	if err != nil {
		t.Fatalf("second decide failed: %v", err)
	}
	if rejected.HiringRecordID == hired.HiringRecordID {
		t.Fatalf("expected distinct record ids per decision")
	}

	records, err := fixture.service.ListHiringRecords(ctx, fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both decisions to stay on record, got %d", len(records))
	}
	statuses := map[Status]string{}
	for _, record := range records {
		statuses[record.Status] = record.Revision
	}
	if statuses[StatusHired] != first.Revision || statuses[StatusRejected] != second.Revision {
		t.Fatalf("unexpected records %#v", records)
	}

	report, err := NewReconciler(fixture.service, nil).Run(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Repaired != 0 {
		t.Fatalf("expected nothing to repair, got %#v", report)
	}
}

func TestReconcilerWritesRecordForNewRevision(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()

	first := fixture.applyStaff(t)
	if _, err := fixture.service.Decide(ctx, fixture.recruiter, first.ApplicationID, StatusHired); err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if err := fixture.service.RemoveCandidate(ctx, fixture.recruiter, first.ApplicationID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	second := fixture.applyStaff(t)

	// The status write lands but the record write never happens.
	if _, err := fixture.store.UpdateItem(ctx, testTables.Applications, second.ApplicationID, docstore.Item{
		"status":    string(StatusRejected),
		"decidedAt": int64(1700000200),
		"decidedBy": fixture.recruiter.UserID,
	}); err != nil {
		t.Fatalf("status write failed: %v", err)
	}

	report, err := NewReconciler(fixture.service, nil).Run(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("expected the new revision to be repaired, got %#v", report)
	}
	records, err := fixture.service.ListHiringRecords(ctx, fixture.recruiter)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected the original record plus the repaired one, got %#v", records)
	}
}

// gatedStore holds the first application create until released.
type gatedStore struct {
	docstore.Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (s *gatedStore) CreateItem(ctx context.Context, table docstore.Table, item docstore.Item) error {
	if table.Name == testTables.Applications.Name {
		gated := false
		s.once.Do(func() { gated = true })
		if gated {
			close(s.reached)
			<-s.release
		}
	}
	return s.Store.CreateItem(ctx, table, item)
}

func TestLateApplyCannotResetDecidedApplication(t *testing.T) {
	fixture := newHiringFixture(t)
	ctx := context.Background()
	gate := &gatedStore{Store: fixture.store, reached: make(chan struct{}), release: make(chan struct{})}
	service, err := NewService(ServiceConfig{
		Store:      gate,
		Tables:     testTables,
		Directory:  fixture.directory,
		IDProvider: &sequenceIDs{next: 100},
	})
	if err != nil {
		t.Fatalf("failed to create hiring service: %v", err)
	}
	request := ApplyRequest{
		RecruiterID: fixture.recruiter.UserID,
		JobID:       fixture.job.JobID,
		JobTitle:    "Engineer",
		CompanyName: "Acme",
	}

	lateErr := make(chan error, 1)
	go func() {
		_, err := service.ApplyForJob(ctx, fixture.staff, request)
		lateErr <- err
	}()
	<-gate.reached

	application, err := service.ApplyForJob(ctx, fixture.staff, request)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := service.Decide(ctx, fixture.recruiter, application.ApplicationID, StatusHired); err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	close(gate.release)

	if err := <-lateErr; !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected the late apply to conflict, got %v", err)
	}
	stored, err := service.GetApplication(ctx, application.ApplicationID)
	if err != nil {
		t.Fatalf("get application failed: %v", err)
	}
	if stored.Status != StatusHired {
		t.Fatalf("expected status to stay Hired, got %s", stored.Status)
	}
	if _, err := service.Decide(ctx, fixture.recruiter, application.ApplicationID, StatusRejected); !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected conflict on a second decision, got %v", err)
	}
}
