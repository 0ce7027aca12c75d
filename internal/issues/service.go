// Package issues stores help requests, typically from blocked users, and
// resolves them.
package issues

import (
	"context"
	"errors"
	"net/mail"
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
	opCreate  = "issues.create"
	opList    = "issues.list"
	opResolve = "issues.resolve"
)

// Status is the state of an issue.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Issue is a help request.
type Issue struct {
	IssueID           string `json:"issueId"`
	UserID            string `json:"userId,omitempty"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Query             string `json:"query"`
	Status            Status `json:"status"`
	CreatedAtSeconds  int64  `json:"createdAt"`
	UpdatedAtSeconds  int64  `json:"updatedAt"`
	ResolvedAtSeconds int64  `json:"resolvedAt,omitempty"`
}

// IssueRequest carries a new help request.
type IssueRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Query string `json:"query"`
}

// Directory finds and unblocks accounts.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) (users.User, error)
}

// ServiceConfig describes the dependencies required by the issue service.
type ServiceConfig struct {
	Store      docstore.Store
	Table      docstore.Table
	Guards     *guard.Registry
	Directory  Directory
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages help requests.
type Service struct {
	store      docstore.Store
	table      docstore.Table
	guard      *guard.Guard
	directory  Directory
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs an issue service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("issues: document store required")
	}
	if cfg.Guards == nil {
		return nil, errors.New("issues: guard registry required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("issues: directory required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("issues: id provider required")
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
		directory:  cfg.Directory,
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// Create records a help request. The submitter does not need to be signed in;
// the issue is linked to the account registered under the same email, if any.
func (s *Service) Create(ctx context.Context, request IssueRequest) (Issue, error) {
	issue := Issue{
		Name:   strings.TrimSpace(request.Name),
		Email:  strings.ToLower(strings.TrimSpace(request.Email)),
		Query:  strings.TrimSpace(request.Query),
		Status: StatusPending,
	}
	if issue.Name == "" || issue.Email == "" || issue.Query == "" {
		return Issue{}, apperrors.Validation(opCreate, "missing_fields", "name, email and query are required")
	}
	if _, err := mail.ParseAddress(issue.Email); err != nil {
		return Issue{}, apperrors.Validation(opCreate, "invalid_email", "email is not valid")
	}
	if user, err := s.directory.FindByEmail(ctx, issue.Email); err == nil {
		issue.UserID = user.UserID
	} else if !apperrors.Is(err, apperrors.KindNotFound) {
		s.logger.Warn("issue submitted without account match",
			zap.String("operation", opCreate),
			zap.String("reason", "lookup_failed"),
			zap.Error(err))
	}

	issueID, err := s.idProvider.NewID()
	if err != nil {
		return Issue{}, apperrors.TransientStore(opCreate, "id_generation_failed", err)
	}
	nowSeconds := s.now().UTC().Unix()
	issue.IssueID = issueID
	issue.CreatedAtSeconds = nowSeconds
	issue.UpdatedAtSeconds = nowSeconds

	item, err := docstore.Marshal(issue)
	if err != nil {
		return Issue{}, apperrors.TransientStore(opCreate, "marshal_failed", err)
	}
	err = s.guard.Write(ctx, func(ctx context.Context) error {
		return s.store.CreateItem(ctx, s.table, item)
	})
	if err != nil {
		return Issue{}, apperrors.FromStore(opCreate, err)
	}
	return issue, nil
}

// List returns issues, newest first, optionally restricted to one status.
// An unavailable table reads as no issues.
func (s *Service) List(ctx context.Context, status Status) []Issue {
	var filter docstore.Filter
	query := "all"
	if status != "" {
		filter = docstore.Filter{docstore.Where("status", string(status))}
		query = "status=" + string(status)
	}
	items := s.guard.Read(ctx, query, func(ctx context.Context) ([]docstore.Item, error) {
		return s.store.ScanItems(ctx, s.table, filter)
	})
	found := make([]Issue, 0, len(items))
	for _, item := range items {
		var issue Issue
		if err := docstore.Unmarshal(item, &issue); err != nil {
			s.logger.Warn("skipping undecodable issue", zap.String("operation", opList), zap.Error(err))
			continue
		}
		found = append(found, issue)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].CreatedAtSeconds != found[j].CreatedAtSeconds {
			return found[i].CreatedAtSeconds > found[j].CreatedAtSeconds
		}
		return found[i].IssueID < found[j].IssueID
	})
	return found
}

// Resolve marks the issue resolved and then unblocks the matching account.
// The two steps are written separately and each is safe to repeat: when the
// second step fails the issue stays resolved and a retry finishes the unblock.
func (s *Service) Resolve(ctx context.Context, issueID string) (Issue, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return Issue{}, apperrors.Validation(opResolve, "missing_issue", "issue id is required")
	}

	var issue Issue
	err := s.guard.Write(ctx, func(ctx context.Context) error {
		item, err := s.store.GetItem(ctx, s.table, issueID)
		if err != nil {
			return err
		}
		if err := docstore.Unmarshal(item, &issue); err != nil {
			return apperrors.TransientStore(opResolve, "decode_failed", err)
		}
		if issue.Status == StatusResolved {
			return nil
		}
		nowSeconds := s.now().UTC().Unix()
		updated, err := s.store.UpdateItem(ctx, s.table, issueID, docstore.Item{
			"status":     string(StatusResolved),
			"resolvedAt": nowSeconds,
			"updatedAt":  nowSeconds,
		})
		if err != nil {
			return err
		}
		return docstore.Unmarshal(updated, &issue)
	})
	if err != nil {
		return Issue{}, apperrors.FromStore(opResolve, err)
	}

	if err := s.unblock(ctx, issue); err != nil {
		s.logger.Error("issue resolved but account still blocked",
			zap.String("operation", opResolve),
			zap.String("reason", "unblock_failed"),
			zap.String("issue_id", issue.IssueID),
			zap.Error(err))
		return issue, err
	}
	return issue, nil
}

func (s *Service) unblock(ctx context.Context, issue Issue) error {
	userID := issue.UserID
	if userID == "" {
		user, err := s.directory.FindByEmail(ctx, issue.Email)
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID = user.UserID
	}
	_, err := s.directory.SetBlocked(ctx, userID, false)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return nil
	}
	return err
}
