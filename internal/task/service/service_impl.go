package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	"github.com/sahayak-app/sahayak/internal/clock"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	"github.com/sahayak-app/sahayak/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Bus   eventbus.Bus
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	bus   eventbus.Bus
	repo  domain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("task.service"),
		genID: p.GenID,
		clock: p.Clock,
		bus:   p.Bus,
		repo:  p.Repo,
	}
}

func (s *Service) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	if req.BuyerID == 0 || strings.TrimSpace(req.Title) == "" {
		return nil, domain.ErrInvalidRequest
	}
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	task := &domain.Task{
		ID:          s.genID.Generate(),
		BuyerID:     req.BuyerID,
		Status:      domain.TaskStatusCreated,
		Title:       strings.TrimSpace(req.Title),
		AmountMinor: req.AmountMinor,
		Currency:    currency,
		Geohash:     strings.TrimSpace(req.Geohash),
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, task); err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.New(eventbus.EventTaskCreated, map[string]string{
		"task_id":  task.ID.String(),
		"buyer_id": task.BuyerID.String(),
		"amount":   strconv.FormatInt(task.AmountMinor, 10),
		"currency": task.Currency,
		"geohash":  task.Geohash,
	}))
	return task, nil
}

// AssignHelper accepts a helper onto a task. A task still in MATCHING passes
// through DISPATCHED first; both hops are validated against the transition
// table before the single guarded write lands.
func (s *Service) AssignHelper(ctx context.Context, taskID, helperID snowflake.ID) (*domain.Task, error) {
	if helperID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	task, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}

	// Redelivered assignment for the same helper is a no-op, not an error.
	if task.HelperID != nil && *task.HelperID == helperID && !domain.CanTransition(task.Status, domain.TaskStatusAccepted) {
		return task, nil
	}

	from := task.Status
	if from == domain.TaskStatusMatching {
		if err := domain.ValidateTransition(from, domain.TaskStatusDispatched); err != nil {
			return nil, err
		}
		if err := domain.ValidateTransition(domain.TaskStatusDispatched, domain.TaskStatusAccepted); err != nil {
			return nil, err
		}
	} else if err := domain.ValidateTransition(from, domain.TaskStatusAccepted); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.repo.TransitionStatus(ctx, s.db, domain.StatusUpdate{
		TaskID:   taskID,
		From:     from,
		To:       domain.TaskStatusAccepted,
		Version:  task.Version,
		HelperID: &helperID,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrConflict
	}

	task.Status = domain.TaskStatusAccepted
	task.HelperID = &helperID
	task.AssignedAt = &now
	task.Version++
	task.UpdatedAt = now

	s.publish(ctx, eventbus.New(eventbus.EventTaskAssigned, map[string]string{
		"task_id":   task.ID.String(),
		"buyer_id":  task.BuyerID.String(),
		"helper_id": helperID.String(),
		"amount":    strconv.FormatInt(task.AmountMinor, 10),
		"currency":  task.Currency,
	}))
	s.publishStatusChanged(ctx, task, from, domain.TaskStatusAccepted)
	return task, nil
}

func (s *Service) ChangeStatus(ctx context.Context, taskID snowflake.ID, newStatus domain.TaskStatus, actor authdomain.Principal) (*domain.Task, error) {
	task, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}
	if task.Status == newStatus {
		// Already satisfied; redelivery must not error or re-emit.
		return task, nil
	}

	from := task.Status
	if err := domain.ValidateTransition(from, newStatus); err != nil {
		s.log.Warn("illegal status change rejected",
			zap.String("task_id", taskID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(newStatus)),
			zap.String("actor_id", actor.UserID.String()),
		)
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.repo.TransitionStatus(ctx, s.db, domain.StatusUpdate{
		TaskID:  taskID,
		From:    from,
		To:      newStatus,
		Version: task.Version,
		Now:     now,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrConflict
	}

	task.Status = newStatus
	task.Version++
	task.UpdatedAt = now
	if newStatus == domain.TaskStatusCompleted {
		task.CompletedAt = &now
	}

	// Re-entering CREATED from MATCHING is a matching retry; it publishes a
	// status change only, never a second creation fact.
	s.publishStatusChanged(ctx, task, from, newStatus)

	if newStatus == domain.TaskStatusCompleted {
		fields := map[string]string{
			"task_id": task.ID.String(),
		}
		if task.HelperID != nil {
			fields["helper_id"] = task.HelperID.String()
		}
		s.publish(ctx, eventbus.New(eventbus.EventTaskCompleted, fields))
	}
	return task, nil
}

func (s *Service) Cancel(ctx context.Context, taskID snowflake.ID, actor authdomain.Principal, reason string) (*domain.Task, error) {
	task, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}
	if task.Status == domain.TaskStatusCancelled {
		// Second cancel is idempotent and must not re-emit.
		return task, nil
	}

	if !s.mayCancel(task, actor) {
		return nil, domain.ErrUnauthorized
	}
	if !domain.CanCancel(task.Status) {
		return nil, domain.ValidateTransition(task.Status, domain.TaskStatusCancelled)
	}

	from := task.Status
	now := s.clock.Now()
	cancelledBy := actor.UserID.String()
	trimmedReason := strings.TrimSpace(reason)
	updated, err := s.repo.TransitionStatus(ctx, s.db, domain.StatusUpdate{
		TaskID:      taskID,
		From:        from,
		To:          domain.TaskStatusCancelled,
		Version:     task.Version,
		CancelledBy: &cancelledBy,
		Reason:      &trimmedReason,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrConflict
	}

	task.Status = domain.TaskStatusCancelled
	task.CancelledAt = &now
	task.CancelledBy = &cancelledBy
	task.CancelReason = &trimmedReason
	task.Version++
	task.UpdatedAt = now

	s.publish(ctx, eventbus.New(eventbus.EventTaskCancelled, map[string]string{
		"task_id":      task.ID.String(),
		"cancelled_by": cancelledBy,
		"reason":       trimmedReason,
	}))
	s.publishStatusChanged(ctx, task, from, domain.TaskStatusCancelled)
	return task, nil
}

func (s *Service) Get(ctx context.Context, taskID snowflake.ID) (*domain.Task, error) {
	task, err := s.repo.FindByID(ctx, s.db, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}
	return task, nil
}

func (s *Service) mayCancel(task *domain.Task, actor authdomain.Principal) bool {
	if actor.Role == authdomain.RoleAdmin {
		return true
	}
	if actor.UserID == task.BuyerID {
		return true
	}
	return task.HelperID != nil && actor.UserID == *task.HelperID
}

func (s *Service) publishStatusChanged(ctx context.Context, task *domain.Task, from, to domain.TaskStatus) {
	fields := map[string]string{
		"task_id":  task.ID.String(),
		"from":     string(from),
		"to":       string(to),
		"buyer_id": task.BuyerID.String(),
	}
	if task.HelperID != nil {
		fields["helper_id"] = task.HelperID.String()
	}
	s.publish(ctx, eventbus.New(eventbus.EventTaskStatusChanged, fields))
}

// publish runs after the guarded write committed. A lost event here is
// recovered by reconciliation (webhooks, status queries), so the mutation
// itself is never rolled back for a publish failure.
func (s *Service) publish(ctx context.Context, event eventbus.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Error("event publish failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}
