package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	"github.com/sahayak-app/sahayak/internal/auth/token"
	"github.com/sahayak-app/sahayak/internal/config"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	paymentdomain "github.com/sahayak-app/sahayak/internal/payment/domain"
	taskdomain "github.com/sahayak-app/sahayak/internal/task/domain"
	"go.uber.org/zap"
)

type fakeTaskService struct {
	createErr error
	cancelErr error
	getErr    error
	lastReq   taskdomain.CreateTaskRequest
	task      *taskdomain.Task
}

func (f *fakeTaskService) CreateTask(ctx context.Context, req taskdomain.CreateTaskRequest) (*taskdomain.Task, error) {
	f.lastReq = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.task, nil
}

func (f *fakeTaskService) AssignHelper(ctx context.Context, taskID, helperID snowflake.ID) (*taskdomain.Task, error) {
	return f.task, nil
}

func (f *fakeTaskService) ChangeStatus(ctx context.Context, taskID snowflake.ID, status taskdomain.TaskStatus, actor authdomain.Principal) (*taskdomain.Task, error) {
	return nil, taskdomain.ErrInvalidTransition
}

func (f *fakeTaskService) Cancel(ctx context.Context, taskID snowflake.ID, actor authdomain.Principal, reason string) (*taskdomain.Task, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.task, nil
}

func (f *fakeTaskService) Get(ctx context.Context, taskID snowflake.ID) (*taskdomain.Task, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.task, nil
}

type fakePaymentService struct{}

func (f *fakePaymentService) HandleTaskEvent(ctx context.Context, event eventbus.Event) error {
	return nil
}

func (f *fakePaymentService) Refund(ctx context.Context, paymentID snowflake.ID, amount int64, reason string) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrRefundExceedsCaptured
}

func (f *fakePaymentService) Fail(ctx context.Context, paymentID snowflake.ID, reason string) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrNotFound
}

func (f *fakePaymentService) HandleProviderEvent(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	return nil
}

func (f *fakePaymentService) Get(ctx context.Context, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrNotFound
}

const testAuthSecret = "auth-secret"

func issueToken(t *testing.T, userID snowflake.ID, role string) string {
	t.Helper()
	payload := fmt.Sprintf(`{"user_id":%q,"role":%q,"exp":%d}`, userID.String(), role, time.Now().Add(time.Hour).Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(testAuthSecret))
	mac.Write([]byte(encoded))
	return encoded + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T, tasks taskdomain.Service) (*Server, *gin.Engine, *snowflake.Node) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	engine := NewEngine(prometheus.NewRegistry())
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{AuthTokenSecret: testAuthSecret},
		Log:        zap.NewNop(),
		GenID:      node,
		Verifier:   token.NewVerifier(testAuthSecret),
		TaskSvc:    tasks,
		PaymentSvc: &fakePaymentService{},
	})
	return srv, engine, node
}

func doJSON(engine *gin.Engine, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	_, engine, _ := newTestServer(t, &fakeTaskService{})

	w := doJSON(engine, http.MethodPost, "/v1/tasks", "", `{"title":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: code = %d, want 401", w.Code)
	}

	w = doJSON(engine, http.MethodPost, "/v1/tasks", "garbage.token", `{"title":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code = %d, want 401", w.Code)
	}
}

func TestCreateTaskUsesCallerAsBuyer(t *testing.T) {
	fake := &fakeTaskService{}
	_, engine, node := newTestServer(t, fake)
	buyerID := node.Generate()
	fake.task = &taskdomain.Task{ID: node.Generate(), BuyerID: buyerID, Status: taskdomain.TaskStatusCreated}

	body := `{"title":"Fix tap","amount":500000,"currency":"INR","geohash":"tdr1y"}`
	w := doJSON(engine, http.MethodPost, "/v1/tasks", issueToken(t, buyerID, "buyer"), body)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if fake.lastReq.BuyerID != buyerID {
		t.Fatalf("buyer = %s, want caller %s", fake.lastReq.BuyerID, buyerID)
	}
	if fake.lastReq.AmountMinor != 500000 || fake.lastReq.Currency != "INR" {
		t.Fatalf("request = %+v", fake.lastReq)
	}
}

func TestInvalidTransitionMapsToConflict(t *testing.T) {
	fake := &fakeTaskService{}
	_, engine, node := newTestServer(t, fake)

	body := `{"status":"COMPLETED"}`
	w := doJSON(engine, http.MethodPost, "/v1/tasks/"+node.Generate().String()+"/status", issueToken(t, node.Generate(), "admin"), body)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	_, engine, node := newTestServer(t, &fakeTaskService{})

	body := `{"status":"TELEPORTED"}`
	w := doJSON(engine, http.MethodPost, "/v1/tasks/"+node.Generate().String()+"/status", issueToken(t, node.Generate(), "admin"), body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestTaskNotFoundMapsTo404(t *testing.T) {
	fake := &fakeTaskService{getErr: taskdomain.ErrNotFound}
	_, engine, node := newTestServer(t, fake)

	w := doJSON(engine, http.MethodGet, "/v1/tasks/"+node.Generate().String(), issueToken(t, node.Generate(), "buyer"), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestUnauthorizedCancelMapsTo403(t *testing.T) {
	fake := &fakeTaskService{cancelErr: taskdomain.ErrUnauthorized}
	_, engine, node := newTestServer(t, fake)

	body := `{"reason":"nope"}`
	w := doJSON(engine, http.MethodPost, "/v1/tasks/"+node.Generate().String()+"/cancel", issueToken(t, node.Generate(), "helper"), body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestRefundRequiresAdmin(t *testing.T) {
	_, engine, node := newTestServer(t, &fakeTaskService{})

	body := `{"amount":1000,"reason":"damaged"}`
	path := "/v1/payments/" + node.Generate().String() + "/refund"

	w := doJSON(engine, http.MethodPost, path, issueToken(t, node.Generate(), "buyer"), body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("buyer refund: code = %d, want 403", w.Code)
	}

	// Admin reaches the service, whose over-refund rejection maps to 409.
	w = doJSON(engine, http.MethodPost, path, issueToken(t, node.Generate(), "admin"), body)
	if w.Code != http.StatusConflict {
		t.Fatalf("admin refund: code = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	_, engine, _ := newTestServer(t, &fakeTaskService{})

	w := doJSON(engine, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("body = %s", w.Body.String())
	}
}
