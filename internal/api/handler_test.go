package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crmflow/internal/broker"
	"crmflow/internal/broker/brokertest"
	"crmflow/internal/campaign"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/internal/publisher"
	"crmflow/internal/segment"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/health"
	"crmflow/pkg/models"
	"crmflow/pkg/ratelimit"
)

type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) Launch(ctx context.Context, req campaign.LaunchRequest) (campaign.LaunchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(campaign.LaunchResult), args.Error(1)
}

func (m *MockCampaignService) Preview(ctx context.Context, rule segment.Rule) (campaign.Preview, error) {
	args := m.Called(ctx, rule)
	return args.Get(0).(campaign.Preview), args.Error(1)
}

func (m *MockCampaignService) Report(ctx context.Context, campaignID string) (campaign.Report, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(campaign.Report), args.Error(1)
}

type testServer struct {
	router    *gin.Engine
	service   *MockCampaignService
	transport *brokertest.MemoryTransport
}

func newTestServer(t *testing.T, checks *health.CheckerRegistry, opts RouterOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := new(MockCampaignService)
	tr := brokertest.NewMemoryTransport()
	h := NewHandler(svc, publisher.New(tr, logger.NopLogger()), checks, logger.NopLogger())

	return &testServer{
		router:    NewRouter(h, logger.NopLogger(), opts),
		service:   svc,
		transport: tr,
	}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLaunchCampaign(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	rule := segment.Rule{Field: "totalSpend", Condition: ">", Value: "500"}
	s.service.On("Launch", mock.Anything, campaign.LaunchRequest{
		Name:            "Big spenders",
		SegmentRules:    rule,
		MessageTemplate: "Hi {name}",
	}).Return(campaign.LaunchResult{CampaignID: "CMP1", AudienceSize: 42}, nil)

	w := s.do(http.MethodPost, "/api/v1/campaigns", map[string]interface{}{
		"name":            "Big spenders",
		"segmentRules":    map[string]interface{}{"field": "totalSpend", "condition": ">", "value": "500"},
		"messageTemplate": "Hi {name}",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "CMP1", body["campaignId"])
	assert.Equal(t, 42.0, body["audienceSize"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	s.service.AssertExpectations(t)
}

func TestLaunchCampaignErrors(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodPost, "/api/v1/campaigns", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ErrValidation.Code, decode(t, w)["error_code"])

	s.service.On("Launch", mock.Anything, mock.Anything).
		Return(campaign.LaunchResult{}, apperrors.ErrValidation.WithDetail("field", "name")).Once()
	w = s.do(http.MethodPost, "/api/v1/campaigns", map[string]string{"messageTemplate": "Hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.service.On("Launch", mock.Anything, mock.Anything).
		Return(campaign.LaunchResult{}, errors.New("no reachable servers")).Once()
	w = s.do(http.MethodPost, "/api/v1/campaigns", map[string]string{"name": "x", "messageTemplate": "Hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ErrInternal.Code, decode(t, w)["error_code"])
}

func TestPreviewAudience(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodPost, "/api/v1/campaigns/preview", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.service.On("Preview", mock.Anything, segment.Rule{Field: "visits", Condition: ">=", Value: 3.0}).
		Return(campaign.Preview{AudienceSize: 2, Sample: []models.Customer{{ID: "C1"}, {ID: "C2"}}}, nil)

	w = s.do(http.MethodPost, "/api/v1/campaigns/preview", map[string]interface{}{
		"segmentRules": map[string]interface{}{"field": "visits", "condition": ">=", "value": 3},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 2.0, body["audienceSize"])
	assert.Len(t, body["sampleAudience"], 2)
}

func TestCampaignStats(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})
	s.service.On("Report", mock.Anything, "CMP1").Return(campaign.Report{
		Campaign: &models.Campaign{ID: "CMP1", Status: models.CampaignStatusCompleted},
		Stats:    models.DeliveryStats{Sent: 9, Failed: 1, Total: 10},
	}, nil)
	s.service.On("Report", mock.Anything, "missing").Return(campaign.Report{}, apperrors.ErrNotFound)

	w := s.do(http.MethodGet, "/api/v1/campaigns/CMP1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]interface{})
	assert.Equal(t, 9.0, stats["sent"])
	assert.Equal(t, 10.0, stats["total"])

	w = s.do(http.MethodGet, "/api/v1/campaigns/missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeliveryReceiptPublishesStatusUpdate(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{})

	w := s.do(http.MethodPost, "/api/v1/delivery-receipts", map[string]string{
		"_id":         "L1",
		"status":      "FAILED",
		"errorReason": "Invalid recipient",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, decode(t, w)["streamMessageId"])

	payloads := s.transport.Payloads(constants.CommunicationStream)
	require.Len(t, payloads, 1)
	ev, err := broker.Decode(broker.Message{ID: "1-0", Payload: payloads[0]})
	require.NoError(t, err)
	m, err := ev.CommunicationMutation()
	require.NoError(t, err)
	assert.Equal(t, models.UpdateDeliveryStatus{
		ID:          "L1",
		Status:      models.CommunicationStatusFailed,
		ErrorReason: "Invalid recipient",
	}, m)

	for _, body := range []map[string]string{
		{"status": "SENT"},
		{"_id": "L1", "status": "PENDING"},
	} {
		w := s.do(http.MethodPost, "/api/v1/delivery-receipts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Equal(t, 1, s.transport.Len(constants.CommunicationStream))
}

func TestHealth(t *testing.T) {
	checks := health.NewCheckerRegistry()
	checks.Register(health.NewCheckFunc("redis", func(ctx context.Context) error { return nil }))
	s := newTestServer(t, checks, RouterOptions{})

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	checks.Register(health.NewCheckFunc("mongodb", func(ctx context.Context) error { return errors.New("down") }))
	w = s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimitSkipsHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServer(t, nil, RouterOptions{RateLimiter: ratelimit.NewPerClient(ctx, ratelimit.Config{RPS: 0.001, Burst: 1})})
	s.service.On("Report", mock.Anything, "CMP1").Return(campaign.Report{}, nil)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/campaigns/CMP1/stats", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/api/v1/campaigns/CMP1/stats", nil).Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil).Code)
	}
}

func TestSwaggerDocument(t *testing.T) {
	s := newTestServer(t, nil, RouterOptions{Swagger: true})

	w := s.do(http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, "/api/v1", doc["basePath"])
	paths := doc["paths"].(map[string]interface{})
	for _, p := range []string{"/campaigns", "/campaigns/preview", "/campaigns/{id}/stats", "/delivery-receipts"} {
		assert.Contains(t, paths, p)
	}

	s = newTestServer(t, nil, RouterOptions{})
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/swagger/doc.json", nil).Code)
}
