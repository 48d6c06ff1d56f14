package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chesshelper/internal/scheduler"
	"chesshelper/internal/types"
)

const testAPIKey = "test-admin-key"

// --- Mocks ---

type mockQueueService struct {
	mock.Mock
}

func (m *mockQueueService) Enqueue(ctx context.Context, req types.EnqueueRequest) (*types.QueueItem, error) {
	args := m.Called(ctx, req)
	if item := args.Get(0); item != nil {
		return item.(*types.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueService) Get(ctx context.Context, id string) (*types.QueueItem, error) {
	args := m.Called(ctx, id)
	if item := args.Get(0); item != nil {
		return item.(*types.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueService) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockQueueService) RetryFailed(ctx context.Context, id, policyName string) (*types.QueueItem, error) {
	args := m.Called(ctx, id, policyName)
	if item := args.Get(0); item != nil {
		return item.(*types.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueService) List(ctx context.Context, filter types.ListFilter) ([]*types.QueueItem, error) {
	args := m.Called(ctx, filter)
	if items := args.Get(0); items != nil {
		return items.([]*types.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueService) Attempts(ctx context.Context, id string) ([]*types.RetryAttempt, error) {
	args := m.Called(ctx, id)
	if attempts := args.Get(0); attempts != nil {
		return attempts.([]*types.RetryAttempt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueService) Statistics(ctx context.Context) (types.QueueStatistics, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.QueueStatistics), args.Error(1)
}

type mockBatchProcessor struct {
	mock.Mock
}

func (m *mockBatchProcessor) ProcessQueue(ctx context.Context, priority *types.Priority, maxBatch int, dryRun bool) (*types.BatchResult, error) {
	args := m.Called(ctx, priority, maxBatch, dryRun)
	if result := args.Get(0); result != nil {
		return result.(*types.BatchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHealthChecker struct {
	mock.Mock
}

func (m *mockHealthChecker) Check(ctx context.Context) types.HealthStatus {
	args := m.Called(ctx)
	return args.Get(0).(types.HealthStatus)
}

type mockCleanupRunner struct {
	mock.Mock
}

func (m *mockCleanupRunner) Run(ctx context.Context, dryRun bool) (scheduler.CleanupResult, error) {
	args := m.Called(ctx, dryRun)
	return args.Get(0).(scheduler.CleanupResult), args.Error(1)
}

type mockSuppressionAdmin struct {
	mock.Mock
}

func (m *mockSuppressionAdmin) List(ctx context.Context, limit int) ([]*types.SuppressionEntry, error) {
	args := m.Called(ctx, limit)
	if entries := args.Get(0); entries != nil {
		return entries.([]*types.SuppressionEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSuppressionAdmin) Delete(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// --- Fixture ---

type serverFixture struct {
	queue        *mockQueueService
	processor    *mockBatchProcessor
	health       *mockHealthChecker
	cleanup      *mockCleanupRunner
	suppressions *mockSuppressionAdmin
	server       *Server
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		queue:        &mockQueueService{},
		processor:    &mockBatchProcessor{},
		health:       &mockHealthChecker{},
		cleanup:      &mockCleanupRunner{},
		suppressions: &mockSuppressionAdmin{},
	}
	f.server = NewServer(ServerConfig{
		Queue:        f.queue,
		Processor:    f.processor,
		Health:       f.health,
		Cleanup:      f.cleanup,
		Suppressions: f.suppressions,
		Logger:       types.NopLogger{},
		AdminAPIKey:  types.SecretString(testAPIKey),
		MaxBatchSize: 50,
		BuildVersion: "test",
	})
	return f
}

func (f *serverFixture) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

// --- Auth ---

func TestAdmin_RequiresAPIKey(t *testing.T) {
	f := newServerFixture()

	rec := f.request(t, http.MethodGet, "/admin/queue/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rec))
}

func TestAdmin_RejectsWrongKey(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_AcceptsBearerToken(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Statistics", mock.Anything).Return(types.QueueStatistics{TotalPending: 5}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Health ---

func TestHealth_OpenAndMapsStatus(t *testing.T) {
	f := newServerFixture()
	f.health.On("Check", mock.Anything).Return(types.HealthStatus{Healthy: true, Issues: []string{}})

	rec := f.request(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_UnhealthyIs503(t *testing.T) {
	f := newServerFixture()
	f.health.On("Check", mock.Anything).Return(types.HealthStatus{
		Healthy: false,
		Issues:  []string{"pending backlog critical: 9000 items (threshold 2000)"},
	})

	rec := f.request(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status types.HealthStatus
	decodeData(t, rec, &status)
	assert.Len(t, status.Issues, 1)
}

// --- Process now ---

func TestProcessNow_DefaultBatch(t *testing.T) {
	f := newServerFixture()
	f.processor.On("ProcessQueue", mock.Anything, (*types.Priority)(nil), 50, false).
		Return(&types.BatchResult{Processed: 3, Sent: 3}, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/process", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.BatchResult
	decodeData(t, rec, &result)
	assert.Equal(t, 3, result.Sent)
}

func TestProcessNow_DryRunAndPriority(t *testing.T) {
	f := newServerFixture()
	high := types.PriorityHigh
	f.processor.On("ProcessQueue", mock.Anything, &high, 10, true).
		Return(&types.BatchResult{Processed: 7, DryRun: true}, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/process?dry_run=1&priority=high&max_batch=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	f.processor.AssertExpectations(t)
}

func TestProcessNow_InvalidPriority(t *testing.T) {
	f := newServerFixture()

	rec := f.request(t, http.MethodPost, "/admin/queue/process?priority=urgent", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.processor.AssertNotCalled(t, "ProcessQueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessNow_MaxBatchCappedByConfig(t *testing.T) {
	f := newServerFixture()
	f.processor.On("ProcessQueue", mock.Anything, (*types.Priority)(nil), 50, false).
		Return(&types.BatchResult{}, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/process?max_batch=500", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	f.processor.AssertExpectations(t)
}

// --- Enqueue ---

func TestEnqueue_Created(t *testing.T) {
	f := newServerFixture()
	item := &types.QueueItem{ID: "item-1", Status: types.StatusPending}
	f.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(req types.EnqueueRequest) bool {
		return req.RecipientEmail == "player@example.com" && req.TemplateKind == types.TemplateWelcome
	})).Return(item, nil)

	body := `{"user_id":"u1","recipient_email":"player@example.com","template_kind":"welcome"}`
	rec := f.request(t, http.MethodPost, "/admin/queue/items/", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got types.QueueItem
	decodeData(t, rec, &got)
	assert.Equal(t, "item-1", got.ID)
}

func TestEnqueue_SuppressedRecipientMapsTo403(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Enqueue", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeRecipientSuppressed, "recipient address is on the suppression list", nil))

	body := `{"user_id":"u1","recipient_email":"blocked@example.com","template_kind":"welcome"}`
	rec := f.request(t, http.MethodPost, "/admin/queue/items/", body, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodeRecipientSuppressed), errorCode(t, rec))
}

func TestEnqueue_MalformedJSON(t *testing.T) {
	f := newServerFixture()

	rec := f.request(t, http.MethodPost, "/admin/queue/items/", `{"user_id":`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

// --- Item operations ---

func TestGetItem_NotFoundMapsTo404(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Get", mock.Anything, "ghost").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundQueueItem, "queue item not found", nil))

	rec := f.request(t, http.MethodGet, "/admin/queue/items/ghost", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryItem_WithPolicyBody(t *testing.T) {
	f := newServerFixture()
	item := &types.QueueItem{ID: "item-1", Status: types.StatusPending, PolicyName: "aggressive"}
	f.queue.On("RetryFailed", mock.Anything, "item-1", "aggressive").Return(item, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/items/item-1/retry", `{"policy_name":"aggressive"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	f.queue.AssertExpectations(t)
}

func TestRetryItem_EmptyBodyAllowed(t *testing.T) {
	f := newServerFixture()
	item := &types.QueueItem{ID: "item-1", Status: types.StatusPending}
	f.queue.On("RetryFailed", mock.Anything, "item-1", "").Return(item, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/items/item-1/retry", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelItem_ConflictMapsTo409(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Cancel", mock.Anything, "item-1").
		Return(types.NewAppError(types.ErrCodeConflictNotCancellable, "only pending items can be cancelled", nil))

	rec := f.request(t, http.MethodPost, "/admin/queue/items/item-1/cancel", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListItems_ParsesFilters(t *testing.T) {
	f := newServerFixture()
	f.queue.On("List", mock.Anything, types.ListFilter{
		Status:   types.StatusFailed,
		Priority: types.PriorityHigh,
		UserID:   "u1",
		Limit:    10,
	}).Return([]*types.QueueItem{}, nil)

	rec := f.request(t, http.MethodGet, "/admin/queue/items/?status=failed&priority=high&user_id=u1&limit=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	f.queue.AssertExpectations(t)
}

func TestItemAttempts(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Attempts", mock.Anything, "item-1").Return([]*types.RetryAttempt{
		{ID: "att-1", AttemptNumber: 1, FailureKind: types.FailureTemporary},
	}, nil)

	rec := f.request(t, http.MethodGet, "/admin/queue/items/item-1/attempts", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var attempts []types.RetryAttempt
	decodeData(t, rec, &attempts)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.FailureTemporary, attempts[0].FailureKind)
}

// --- Cleanup ---

func TestCleanup_DryRun(t *testing.T) {
	f := newServerFixture()
	f.cleanup.On("Run", mock.Anything, true).Return(scheduler.CleanupResult{Purged: 42, DryRun: true}, nil)

	rec := f.request(t, http.MethodPost, "/admin/queue/cleanup?dry_run=true", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var result scheduler.CleanupResult
	decodeData(t, rec, &result)
	assert.Equal(t, int64(42), result.Purged)
	assert.True(t, result.DryRun)
}

// --- Suppressions ---

func TestListSuppressions(t *testing.T) {
	f := newServerFixture()
	f.suppressions.On("List", mock.Anything, 0).Return([]*types.SuppressionEntry{
		{Email: "gone@example.com", Reason: types.SuppressionHardBounce, Permanent: true},
	}, nil)

	rec := f.request(t, http.MethodGet, "/admin/suppressions/", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteSuppression(t *testing.T) {
	f := newServerFixture()
	f.suppressions.On("Delete", mock.Anything, "gone@example.com").Return(nil)

	rec := f.request(t, http.MethodDelete, "/admin/suppressions/gone@example.com", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	f.suppressions.AssertExpectations(t)
}

func TestDeleteSuppression_NotFound(t *testing.T) {
	f := newServerFixture()
	f.suppressions.On("Delete", mock.Anything, "ghost@example.com").
		Return(types.NewAppError(types.ErrCodeNotFoundSuppression, "suppression entry not found", nil))

	rec := f.request(t, http.MethodDelete, "/admin/suppressions/ghost@example.com", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Panic recovery ---

func TestRecoverer_PanicBecomes500(t *testing.T) {
	f := newServerFixture()
	f.queue.On("Statistics", mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(types.QueueStatistics{}, nil)

	rec := f.request(t, http.MethodGet, "/admin/queue/stats", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
