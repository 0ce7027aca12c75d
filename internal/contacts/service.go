// Package contacts keeps the history of recruiters reaching out to staff.
package contacts

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
	opRecord = "contacts.record"
	opList   = "contacts.list"
)

var allowedChannels = map[string]struct{}{
	"email":    {},
	"phone":    {},
	"whatsapp": {},
	"in_app":   {},
}

// Contact is one recorded outreach.
type Contact struct {
	ContactID          string `json:"contactId"`
	RecruiterID        string `json:"recruiterId"`
	StaffID            string `json:"staffId"`
	Channel            string `json:"channel"`
	Note               string `json:"note,omitempty"`
	ContactedAtSeconds int64  `json:"contactedAt"`
}

// ContactRequest carries a new outreach.
type ContactRequest struct {
	StaffID string `json:"staffId"`
	Channel string `json:"channel"`
	Note    string `json:"note"`
}

// ServiceConfig describes the dependencies required by the contact service.
type ServiceConfig struct {
	Store      docstore.Store
	Table      docstore.Table
	Guards     *guard.Registry
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service records and lists contact history.
type Service struct {
	store      docstore.Store
	table      docstore.Table
	guard      *guard.Guard
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs a contact history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("contacts: document store required")
	}
	if cfg.Guards == nil {
		return nil, errors.New("contacts: guard registry required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("contacts: id provider required")
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

// Record stores an outreach by the calling recruiter.
func (s *Service) Record(ctx context.Context, actor users.Identity, request ContactRequest) (Contact, error) {
	if actor.Role != users.RoleRecruiter {
		return Contact{}, apperrors.Forbidden(opRecord, "not_recruiter", "only recruiters record contacts")
	}
	contact := Contact{
		RecruiterID: actor.UserID,
		StaffID:     strings.TrimSpace(request.StaffID),
		Channel:     strings.ToLower(strings.TrimSpace(request.Channel)),
		Note:        strings.TrimSpace(request.Note),
	}
	if contact.StaffID == "" {
		return Contact{}, apperrors.Validation(opRecord, "missing_staff", "staffId is required")
	}
	if contact.Channel == "" {
		contact.Channel = "in_app"
	}
	if _, ok := allowedChannels[contact.Channel]; !ok {
		return Contact{}, apperrors.Validation(opRecord, "invalid_channel", "channel must be email, phone, whatsapp or in_app")
	}
	contactID, err := s.idProvider.NewID()
	if err != nil {
		return Contact{}, apperrors.TransientStore(opRecord, "id_generation_failed", err)
	}
	contact.ContactID = contactID
	contact.ContactedAtSeconds = s.now().UTC().Unix()

	item, err := docstore.Marshal(contact)
	if err != nil {
		return Contact{}, apperrors.TransientStore(opRecord, "marshal_failed", err)
	}
	err = s.guard.Write(ctx, func(ctx context.Context) error {
		return s.store.CreateItem(ctx, s.table, item)
	})
	if err != nil {
		return Contact{}, apperrors.FromStore(opRecord, err)
	}
	return contact, nil
}

// ListByRecruiter returns the recruiter's outreach history, newest first.
func (s *Service) ListByRecruiter(ctx context.Context, recruiterID string) []Contact {
	recruiterID = strings.TrimSpace(recruiterID)
	filter := docstore.Filter{docstore.Where("recruiterId", recruiterID)}
	items := s.guard.Read(ctx, "recruiterId="+recruiterID, func(ctx context.Context) ([]docstore.Item, error) {
		return s.store.ScanItems(ctx, s.table, filter)
	})
	found, err := docstore.UnmarshalAll[Contact](items)
	if err != nil {
		s.logger.Warn("contact history undecodable", zap.String("operation", opList), zap.Error(err))
		return []Contact{}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ContactedAtSeconds > found[j].ContactedAtSeconds
	})
	return found
}
