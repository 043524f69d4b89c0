package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	"github.com/sahayak-app/sahayak/internal/clock"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	"github.com/sahayak-app/sahayak/internal/task/domain"
	"github.com/sahayak-app/sahayak/internal/task/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) handle(ctx context.Context, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) byType(eventType string) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	recorder *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:tasks_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// sqlite allows a single writer; one pooled connection keeps concurrent
	// callers off its lock errors.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	bus := eventbus.NewMemoryBus(zap.NewNop(), eventbus.WithSyncDelivery())
	recorder := &eventRecorder{}
	if err := bus.Subscribe("recorder", []string{"task.*"}, recorder.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Bus:   bus,
		Repo:  repository.Provide(),
	})

	return &fixture{svc: svc, db: db, node: node, clock: fake, recorder: recorder}
}

func admin(f *fixture) authdomain.Principal {
	return authdomain.Principal{UserID: f.node.Generate(), Role: authdomain.RoleAdmin}
}

func (f *fixture) createTask(t *testing.T, buyerID snowflake.ID) *domain.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), domain.CreateTaskRequest{
		BuyerID:     buyerID,
		Title:       "Fix leaking tap",
		AmountMinor: 500000,
		Currency:    "INR",
		Geohash:     "tdr1y",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f *fixture) acceptedTask(t *testing.T, buyerID, helperID snowflake.ID) *domain.Task {
	t.Helper()
	task := f.createTask(t, buyerID)
	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusMatching, admin(f)); err != nil {
		t.Fatalf("to matching: %v", err)
	}
	task, err := f.svc.AssignHelper(context.Background(), task.ID, helperID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return task
}

func TestCreateTaskPublishesCreated(t *testing.T) {
	f := newFixture(t)
	buyerID := f.node.Generate()

	task := f.createTask(t, buyerID)
	if task.Status != domain.TaskStatusCreated {
		t.Fatalf("status = %s, want CREATED", task.Status)
	}
	if task.Version != 0 {
		t.Fatalf("version = %d, want 0", task.Version)
	}

	events := f.recorder.byType(eventbus.EventTaskCreated)
	if len(events) != 1 {
		t.Fatalf("task.created count = %d, want 1", len(events))
	}
	e := events[0]
	if e.Field("task_id") != task.ID.String() {
		t.Errorf("task_id = %q", e.Field("task_id"))
	}
	if e.Int64Field("amount") != 500000 {
		t.Errorf("amount = %d", e.Int64Field("amount"))
	}
	if e.Field("currency") != "INR" {
		t.Errorf("currency = %q", e.Field("currency"))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	cases := []domain.CreateTaskRequest{
		{BuyerID: 0, Title: "x", AmountMinor: 100, Currency: "INR"},
		{BuyerID: f.node.Generate(), Title: "  ", AmountMinor: 100, Currency: "INR"},
		{BuyerID: f.node.Generate(), Title: "x", AmountMinor: 0, Currency: "INR"},
		{BuyerID: f.node.Generate(), Title: "x", AmountMinor: -5, Currency: "INR"},
		{BuyerID: f.node.Generate(), Title: "x", AmountMinor: 100, Currency: "RUPEES"},
	}
	for i, req := range cases {
		if _, err := f.svc.CreateTask(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
}

func TestAssignHelperFromMatching(t *testing.T) {
	f := newFixture(t)
	buyerID := f.node.Generate()
	helperID := f.node.Generate()

	task := f.acceptedTask(t, buyerID, helperID)
	if task.Status != domain.TaskStatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", task.Status)
	}
	if task.HelperID == nil || *task.HelperID != helperID {
		t.Fatal("helper not recorded")
	}
	if task.AssignedAt == nil {
		t.Fatal("assigned_at not set")
	}

	assigned := f.recorder.byType(eventbus.EventTaskAssigned)
	if len(assigned) != 1 {
		t.Fatalf("task.assigned count = %d, want 1", len(assigned))
	}
	if assigned[0].Field("helper_id") != helperID.String() {
		t.Errorf("helper_id = %q", assigned[0].Field("helper_id"))
	}
}

func TestAssignHelperIdempotent(t *testing.T) {
	f := newFixture(t)
	helperID := f.node.Generate()
	task := f.acceptedTask(t, f.node.Generate(), helperID)

	again, err := f.svc.AssignHelper(context.Background(), task.ID, helperID)
	if err != nil {
		t.Fatalf("redelivered assignment errored: %v", err)
	}
	if again.Status != domain.TaskStatusAccepted {
		t.Fatalf("status = %s", again.Status)
	}
	if got := len(f.recorder.byType(eventbus.EventTaskAssigned)); got != 1 {
		t.Fatalf("task.assigned count = %d, want 1", got)
	}
}

func TestAssignSecondHelperRejected(t *testing.T) {
	f := newFixture(t)
	task := f.acceptedTask(t, f.node.Generate(), f.node.Generate())

	_, err := f.svc.AssignHelper(context.Background(), task.ID, f.node.Generate())
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestChangeStatusInvalidTransition(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())

	_, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusCompleted, admin(f))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestChangeStatusSameStatusIsNoOp(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())
	before := len(f.recorder.byType(eventbus.EventTaskStatusChanged))

	got, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusCreated, admin(f))
	if err != nil {
		t.Fatalf("same-status change errored: %v", err)
	}
	if got.Version != task.Version {
		t.Fatal("version bumped on no-op")
	}
	if after := len(f.recorder.byType(eventbus.EventTaskStatusChanged)); after != before {
		t.Fatal("status change event emitted on no-op")
	}
}

func TestMatchingRetryEmitsStatusChangeOnly(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())
	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusMatching, admin(f)); err != nil {
		t.Fatalf("to matching: %v", err)
	}

	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusCreated, admin(f)); err != nil {
		t.Fatalf("back to created: %v", err)
	}

	if got := len(f.recorder.byType(eventbus.EventTaskCreated)); got != 1 {
		t.Fatalf("task.created count = %d, want 1", got)
	}
	changes := f.recorder.byType(eventbus.EventTaskStatusChanged)
	last := changes[len(changes)-1]
	if last.Field("from") != string(domain.TaskStatusMatching) || last.Field("to") != string(domain.TaskStatusCreated) {
		t.Fatalf("last change %s -> %s", last.Field("from"), last.Field("to"))
	}
}

func TestCompleteTaskEmitsCompleted(t *testing.T) {
	f := newFixture(t)
	helperID := f.node.Generate()
	task := f.acceptedTask(t, f.node.Generate(), helperID)

	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusInProgress, admin(f)); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	done, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusCompleted, admin(f))
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	completed := f.recorder.byType(eventbus.EventTaskCompleted)
	if len(completed) != 1 {
		t.Fatalf("task.completed count = %d, want 1", len(completed))
	}
	if completed[0].Field("helper_id") != helperID.String() {
		t.Errorf("helper_id = %q", completed[0].Field("helper_id"))
	}
}

func TestCancelIdempotent(t *testing.T) {
	f := newFixture(t)
	buyerID := f.node.Generate()
	task := f.createTask(t, buyerID)
	buyer := authdomain.Principal{UserID: buyerID, Role: authdomain.RoleBuyer}

	first, err := f.svc.Cancel(context.Background(), task.ID, buyer, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != domain.TaskStatusCancelled {
		t.Fatalf("status = %s", first.Status)
	}

	second, err := f.svc.Cancel(context.Background(), task.ID, buyer, "again")
	if err != nil {
		t.Fatalf("second cancel errored: %v", err)
	}
	if second.Status != domain.TaskStatusCancelled {
		t.Fatalf("status = %s", second.Status)
	}

	if got := len(f.recorder.byType(eventbus.EventTaskCancelled)); got != 1 {
		t.Fatalf("task.cancelled count = %d, want 1", got)
	}
}

func TestCancelUnauthorized(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())
	stranger := authdomain.Principal{UserID: f.node.Generate(), Role: authdomain.RoleHelper}

	_, err := f.svc.Cancel(context.Background(), task.ID, stranger, "not mine")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	f := newFixture(t)
	task := f.acceptedTask(t, f.node.Generate(), f.node.Generate())
	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusInProgress, admin(f)); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusCompleted, admin(f)); err != nil {
		t.Fatalf("to completed: %v", err)
	}

	_, err := f.svc.Cancel(context.Background(), task.ID, admin(f), "too late")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestStaleVersionWriteLoses(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())
	repo := repository.Provide()

	updated, err := repo.TransitionStatus(context.Background(), f.db, domain.StatusUpdate{
		TaskID:  task.ID,
		From:    domain.TaskStatusCreated,
		To:      domain.TaskStatusMatching,
		Version: task.Version + 5,
		Now:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated {
		t.Fatal("stale version write should affect zero rows")
	}

	updated, err = repo.TransitionStatus(context.Background(), f.db, domain.StatusUpdate{
		TaskID:  task.ID,
		From:    domain.TaskStatusCreated,
		To:      domain.TaskStatusMatching,
		Version: task.Version,
		Now:     f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated {
		t.Fatal("fresh version write should win")
	}
}

func TestConcurrentAssignsPickOneHelper(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, f.node.Generate())
	if _, err := f.svc.ChangeStatus(context.Background(), task.ID, domain.TaskStatusMatching, admin(f)); err != nil {
		t.Fatalf("to matching: %v", err)
	}

	helpers := []snowflake.ID{f.node.Generate(), f.node.Generate()}
	errs := make([]error, len(helpers))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, helperID := range helpers {
		wg.Add(1)
		go func(i int, helperID snowflake.ID) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.AssignHelper(context.Background(), task.ID, helperID)
		}(i, helperID)
	}
	close(start)
	wg.Wait()

	var won int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected assign error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}

	fresh, err := f.svc.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Status != domain.TaskStatusAccepted || fresh.HelperID == nil {
		t.Fatalf("task = %s helper %v, want ACCEPTED with a helper", fresh.Status, fresh.HelperID)
	}
	if *fresh.HelperID != helpers[0] && *fresh.HelperID != helpers[1] {
		t.Fatalf("helper = %s, not one of the contenders", fresh.HelperID)
	}
	if got := len(f.recorder.byType(eventbus.EventTaskAssigned)); got != 1 {
		t.Fatalf("task.assigned events = %d, want 1", got)
	}
}
