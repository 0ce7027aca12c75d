// Package notifications persists one record per recipient and then pushes a
// live event to each recipient that was persisted.
package notifications

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
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
	"golang.org/x/sync/errgroup"
)

const (
	opSend       = "notifications.send"
	opList       = "notifications.list"
	opMarkAsRead = "notifications.mark_as_read"

	defaultConcurrency = 8

	tracerName = "github.com/MarcoPoloResearchLab/jobbridge/internal/notifications"
)

// EventPublisher is the outbound live-event port.
type EventPublisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Directory resolves audiences to accounts.
type Directory interface {
	Get(ctx context.Context, userID string) (users.User, error)
	ListAll(ctx context.Context) ([]users.User, error)
	ListByRole(ctx context.Context, role users.Role) ([]users.User, error)
}

// ServiceConfig describes the dependencies required by the notification service.
type ServiceConfig struct {
	Store       docstore.Store
	Table       docstore.Table
	Directory   Directory
	Publisher   EventPublisher
	IDProvider  ids.Provider
	Metrics     *Metrics
	Concurrency int
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service fans notifications out to recipients.
type Service struct {
	store       docstore.Store
	table       docstore.Table
	directory   Directory
	publisher   EventPublisher
	idProvider  ids.Provider
	metrics     *Metrics
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewService constructs a notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("notifications: document store required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("notifications: directory required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("notifications: id provider required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
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
		store:       cfg.Store,
		table:       cfg.Table,
		directory:   cfg.Directory,
		publisher:   cfg.Publisher,
		idProvider:  cfg.IDProvider,
		metrics:     cfg.Metrics,
		concurrency: concurrency,
		now:         clock,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Send resolves the audience, persists one notification per recipient, and
// then pushes new_notification to every recipient whose record was written.
// Individual write failures are counted, not fatal. Push failures are ignored.
func (s *Service) Send(ctx context.Context, request SendRequest) (SendResult, error) {
	ctx, span := s.tracer.Start(ctx, opSend, trace.WithAttributes(
		attribute.String("notification.audience", request.TargetAudience),
	))
	defer span.End()

	result, err := s.send(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
	}
	return result, err
}

func (s *Service) send(ctx context.Context, request SendRequest) (SendResult, error) {
	title := strings.TrimSpace(request.Title)
	message := strings.TrimSpace(request.Message)
	if title == "" || message == "" {
		return SendResult{}, apperrors.Validation(opSend, "missing_fields", "title and message are required")
	}
	target, ok := parseAudience(request.TargetAudience)
	if !ok {
		return SendResult{}, apperrors.Validation(opSend, "invalid_audience", "audience must be all, a role, or user:<id>")
	}
	recipients, err := s.resolve(ctx, target)
	if err != nil {
		s.metrics.batch("error")
		return SendResult{}, err
	}
	if len(recipients) == 0 {
		s.metrics.batch("empty")
		return SendResult{}, apperrors.Validation(opSend, "no_recipients", "audience has no recipients")
	}

	batchID, err := s.idProvider.NewID()
	if err != nil {
		return SendResult{}, apperrors.TransientStore(opSend, "id_generation_failed", err)
	}
	nowSeconds := s.now().UTC().Unix()
	audienceLabel := strings.TrimSpace(request.TargetAudience)

	batch := make([]Notification, len(recipients))
	persisted := make([]bool, len(recipients))
	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for index, userID := range recipients {
		batch[index] = Notification{
			NotificationID:   notificationID(batchID, userID),
			BatchID:          batchID,
			UserID:           userID,
			Title:            title,
			Message:          message,
			TargetAudience:   audienceLabel,
			CreatedAtSeconds: nowSeconds,
			UpdatedAtSeconds: nowSeconds,
		}
		group.Go(func() error {
			if err := s.persist(ctx, batch[index]); err != nil {
				s.metrics.write("error")
				s.logError(opSend, "persist_failed", err,
					zap.String("batch_id", batchID),
					zap.String("user_id", userID))
				return nil
			}
			s.metrics.write("ok")
			persisted[index] = true
			return nil
		})
	}
	_ = group.Wait()

	result := SendResult{BatchID: batchID, TargetCount: len(recipients)}
	delivered := make([]Notification, 0, len(recipients))
	for index, notification := range batch {
		if !persisted[index] {
			result.Failed++
			continue
		}
		result.Persisted++
		delivered = append(delivered, notification)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("notification.targets", result.TargetCount),
		attribute.Int("notification.persisted", result.Persisted),
	)
	if result.Persisted == 0 {
		s.metrics.batch("failed")
		return result, apperrors.TransientStore(opSend, "nothing_persisted", errors.New("no notification could be written"))
	}
	s.metrics.batch("ok")

	s.push(ctx, delivered)
	return result, nil
}

// Notify sends a notification to a single account.
func (s *Service) Notify(ctx context.Context, userID, title, message string) error {
	_, err := s.Send(ctx, SendRequest{Title: title, Message: message, TargetAudience: AudienceForUser(userID)})
	return err
}

func (s *Service) resolve(ctx context.Context, target audience) ([]string, error) {
	var accounts []users.User
	switch {
	case target.userID != "":
		account, err := s.directory.Get(ctx, target.userID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil, nil
			}
			return nil, err
		}
		accounts = []users.User{account}
	case target.all:
		listed, err := s.directory.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		accounts = listed
	default:
		listed, err := s.directory.ListByRole(ctx, target.role)
		if err != nil {
			return nil, err
		}
		accounts = listed
	}
	recipients := make([]string, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		if account.UserID == "" {
			continue
		}
		if _, duplicate := seen[account.UserID]; duplicate {
			continue
		}
		seen[account.UserID] = struct{}{}
		recipients = append(recipients, account.UserID)
	}
	return recipients, nil
}

func (s *Service) persist(ctx context.Context, notification Notification) error {
	item, err := docstore.Marshal(notification)
	if err != nil {
		return err
	}
	return s.store.PutItem(ctx, s.table, item)
}

func (s *Service) push(ctx context.Context, delivered []Notification) {
	if s.publisher == nil {
		return
	}
	var wg sync.WaitGroup
	for _, notification := range delivered {
		wg.Add(1)
		go func(notification Notification) {
			defer wg.Done()
			err := s.publisher.Publish(ctx, realtime.ChannelForUser(notification.UserID), realtime.EventNewNotification, notification)
			if err != nil {
				s.metrics.push("error")
				s.logger.Debug("notification push skipped", zap.String("user_id", notification.UserID), zap.Error(err))
				return
			}
			s.metrics.push("ok")
		}(notification)
	}
	wg.Wait()
}

// GetUserNotifications returns the unread notifications of userID, newest first.
func (s *Service) GetUserNotifications(ctx context.Context, userID string) ([]Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Validation(opList, "missing_user", "user id is required")
	}
	items, err := s.store.ScanItems(ctx, s.table, docstore.Filter{
		docstore.Where("userId", userID),
		docstore.Where("isRead", false),
	})
	if err != nil {
		s.logError(opList, "scan_failed", err, zap.String("user_id", userID))
		return nil, apperrors.FromStore(opList, err)
	}
	found, err := docstore.UnmarshalAll[Notification](items)
	if err != nil {
		return nil, apperrors.TransientStore(opList, "decode_failed", err)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].CreatedAtSeconds != found[j].CreatedAtSeconds {
			return found[i].CreatedAtSeconds > found[j].CreatedAtSeconds
		}
		return found[i].NotificationID > found[j].NotificationID
	})
	return found, nil
}

// MarkAsRead marks a notification owned by userID as read. Marking an already
// read notification succeeds without a write.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) (Notification, error) {
	item, err := s.store.GetItem(ctx, s.table, strings.TrimSpace(notificationID))
	if err != nil {
		return Notification{}, apperrors.FromStore(opMarkAsRead, err)
	}
	var notification Notification
	if err := docstore.Unmarshal(item, &notification); err != nil {
		return Notification{}, apperrors.TransientStore(opMarkAsRead, "decode_failed", err)
	}
	if notification.UserID != strings.TrimSpace(userID) {
		return Notification{}, apperrors.Forbidden(opMarkAsRead, "not_owner", "notification belongs to another user")
	}
	if notification.IsRead {
		return notification, nil
	}
	updated, err := s.store.UpdateItem(ctx, s.table, notification.NotificationID, docstore.Item{
		"isRead":    true,
		"updatedAt": s.now().UTC().Unix(),
	})
	if err != nil {
		return Notification{}, apperrors.FromStore(opMarkAsRead, err)
	}
	if err := docstore.Unmarshal(updated, &notification); err != nil {
		return Notification{}, apperrors.TransientStore(opMarkAsRead, "decode_failed", err)
	}
	return notification, nil
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
	s.logger.Error("notifications service error", attrs...)
}
