package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reconflow/internal/models"
	"reconflow/internal/services"
	"reconflow/pkg/engine"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/tools"
)

type MockScanService struct {
	mock.Mock
}

func (m *MockScanService) StartScan(ctx context.Context, domain string) (*models.ScanJob, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScanJob), args.Error(1)
}

func (m *MockScanService) TriggerVulnerabilityScan(ctx context.Context, subdomainID uint, categories []string) error {
	args := m.Called(ctx, subdomainID, categories)
	return args.Error(0)
}

func (m *MockScanService) GetJob(ctx context.Context, domain string) (*models.ScanJob, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScanJob), args.Error(1)
}

func (m *MockScanService) ListJobs(ctx context.Context, page, limit int) (*services.JobPage, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JobPage), args.Error(1)
}

func (m *MockScanService) DeleteJob(ctx context.Context, domain string) error {
	args := m.Called(ctx, domain)
	return args.Error(0)
}

func (m *MockScanService) ListSubdomains(ctx context.Context, domain string, aliveOnly bool) ([]models.Subdomain, error) {
	args := m.Called(ctx, domain, aliveOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Subdomain), args.Error(1)
}

func (m *MockScanService) GroupedFindings(ctx context.Context, domain string, aliveOnly bool) (map[uint]map[models.Category][]string, error) {
	args := m.Called(ctx, domain, aliveOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint]map[models.Category][]string), args.Error(1)
}

func (m *MockScanService) GetProgress(ctx context.Context) (map[uint]models.Status, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint]models.Status), args.Error(1)
}

func (m *MockScanService) Categories() []models.Category {
	args := m.Called()
	return args.Get(0).([]models.Category)
}

func (m *MockScanService) SchedulerStatus() []engine.PoolStatus {
	args := m.Called()
	return args.Get(0).([]engine.PoolStatus)
}

func (m *MockScanService) RecoverInterrupted(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ services.ScanServiceMethods = (*MockScanService)(nil)

func newTestRouter(h *ScanHandler) *gin.Engine {
	router := gin.New()
	router.POST("/api/scans", h.StartScan)
	router.GET("/api/scans", h.ListJobs)
	router.GET("/api/scans/:domain", h.GetJob)
	router.DELETE("/api/scans/:domain", h.DeleteJob)
	router.GET("/api/scans/:domain/subdomains", h.ListSubdomains)
	router.GET("/api/scans/:domain/results", h.GetResults)
	router.POST("/api/subdomains/:id/vulnscan", h.TriggerVulnScan)
	router.GET("/api/progress", h.GetProgress)
	router.GET("/api/categories", h.Categories)
	router.GET("/healthz", h.Health)
	return router
}

func serve(router *gin.Engine, method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartScan(t *testing.T) {
	gin.SetMode(gin.TestMode)

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name           string
		requestBody    string
		setupMock      func(*MockScanService)
		expectedStatus int
		expectedBody   string
		validateMock   func(*testing.T, *MockScanService)
	}{
		{
			name:        "Valid Request - Accepted",
			requestBody: `{"domain":"example.com"}`,
			setupMock: func(m *MockScanService) {
				m.On("StartScan", mock.Anything, "example.com").Return(&models.ScanJob{
					ID: 7, Domain: "example.com", Status: models.StatusRunning, CreatedAt: created, UpdatedAt: created,
				}, nil)
			},
			expectedStatus: 202,
			expectedBody: `{"id":7,"domain":"example.com","status":"running",
				"created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-02T03:04:05Z"}`,
			validateMock: func(t *testing.T, m *MockScanService) {
				m.AssertNumberOfCalls(t, "StartScan", 1)
			},
		},
		{
			name:           "Invalid JSON - Malformed",
			requestBody:    `{"domain":}`,
			setupMock:      func(m *MockScanService) {},
			expectedStatus: 400,
			expectedBody:   `{"error":"Invalid request payload"}`,
			validateMock: func(t *testing.T, m *MockScanService) {
				m.AssertNumberOfCalls(t, "StartScan", 0)
			},
		},
		{
			name:           "Empty Request Body",
			requestBody:    `{}`,
			setupMock:      func(m *MockScanService) {},
			expectedStatus: 400,
			expectedBody:   `{"error":"Invalid request payload"}`,
		},
		{
			name:        "Invalid Domain",
			requestBody: `{"domain":"-x"}`,
			setupMock: func(m *MockScanService) {
				m.On("StartScan", mock.Anything, "-x").
					Return(nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidDomain, "-x"))
			},
			expectedStatus: 400,
			expectedBody:   `{"error":"invalid domain: \"-x\""}`,
		},
		{
			name:        "Running Job - Conflict",
			requestBody: `{"domain":"example.com"}`,
			setupMock: func(m *MockScanService) {
				m.On("StartScan", mock.Anything, "example.com").
					Return(nil, apperrors.NewConflictError("example.com", 3))
			},
			expectedStatus: 409,
			expectedBody:   `{"error":"a scan for example.com is already running (job 3)","job_id":3}`,
		},
		{
			name:        "Scheduler Stopped",
			requestBody: `{"domain":"example.com"}`,
			setupMock: func(m *MockScanService) {
				m.On("StartScan", mock.Anything, "example.com").Return(nil, apperrors.ErrSchedulerClosed)
			},
			expectedStatus: 503,
			expectedBody:   `{"error":"Server is shutting down"}`,
		},
		{
			name:        "Service Error - Internal Error",
			requestBody: `{"domain":"example.com"}`,
			setupMock: func(m *MockScanService) {
				m.On("StartScan", mock.Anything, "example.com").
					Return(nil, errors.New("database connection failed"))
			},
			expectedStatus: 500,
			expectedBody:   `{"error":"Failed to start scan"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			tt.setupMock(mockService)

			router := newTestRouter(NewScanHandler(mockService, logger.Discard()))
			w := serve(router, "POST", "/api/scans", tt.requestBody)

			assert.Equal(t, tt.expectedStatus, w.Code,
				"Expected status %d, got %d. Response: %s",
				tt.expectedStatus, w.Code, w.Body.String())
			assert.JSONEq(t, tt.expectedBody, w.Body.String())

			if tt.validateMock != nil {
				tt.validateMock(t, mockService)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestGetJob(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		domain         string
		setupMock      func(*MockScanService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "Job Found",
			domain: "example.com",
			setupMock: func(m *MockScanService) {
				m.On("GetJob", mock.Anything, "example.com").Return(&models.ScanJob{
					ID: 1, Domain: "example.com", Status: models.StatusFailed, ErrorKind: models.ErrorKindTimeout,
				}, nil)
			},
			expectedStatus: 200,
		},
		{
			name:   "Job Not Found",
			domain: "missing.com",
			setupMock: func(m *MockScanService) {
				m.On("GetJob", mock.Anything, "missing.com").
					Return(nil, fmt.Errorf("%w: missing.com", apperrors.ErrScanNotFound))
			},
			expectedStatus: 404,
			expectedBody:   `{"error":"Scan not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			tt.setupMock(mockService)

			router := newTestRouter(NewScanHandler(mockService, logger.Discard()))
			w := serve(router, "GET", "/api/scans/"+tt.domain, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestDeleteJob(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		domain         string
		setupMock      func(*MockScanService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "Successful Deletion",
			domain: "example.com",
			setupMock: func(m *MockScanService) {
				m.On("DeleteJob", mock.Anything, "example.com").Return(nil)
			},
			expectedStatus: 204,
			expectedBody:   "",
		},
		{
			name:   "Scan Not Found",
			domain: "missing.com",
			setupMock: func(m *MockScanService) {
				m.On("DeleteJob", mock.Anything, "missing.com").Return(apperrors.ErrScanNotFound)
			},
			expectedStatus: 404,
			expectedBody:   `{"error":"Scan not found"}`,
		},
		{
			name:   "Still Running",
			domain: "busy.com",
			setupMock: func(m *MockScanService) {
				m.On("DeleteJob", mock.Anything, "busy.com").Return(apperrors.NewConflictError("busy.com", 9))
			},
			expectedStatus: 409,
			expectedBody:   `{"error":"a scan for busy.com is already running (job 9)","job_id":9}`,
		},
		{
			name:   "Service Error",
			domain: "example.org",
			setupMock: func(m *MockScanService) {
				m.On("DeleteJob", mock.Anything, "example.org").Return(errors.New("db error"))
			},
			expectedStatus: 500,
			expectedBody:   `{"error":"Failed to delete scan"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			tt.setupMock(mockService)

			router := newTestRouter(NewScanHandler(mockService, logger.Discard()))
			w := serve(router, "DELETE", "/api/scans/"+tt.domain, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			} else {
				assert.Equal(t, "", w.Body.String())
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestTriggerVulnScan(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		url            string
		requestBody    string
		setupMock      func(*MockScanService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "Started",
			url:         "/api/subdomains/5/vulnscan",
			requestBody: `{"categories":["cves","misconfig"]}`,
			setupMock: func(m *MockScanService) {
				m.On("TriggerVulnerabilityScan", mock.Anything, uint(5), []string{"cves", "misconfig"}).Return(nil)
			},
			expectedStatus: 202,
			expectedBody:   `{"status":"started"}`,
		},
		{
			name:           "Bad Id",
			url:            "/api/subdomains/abc/vulnscan",
			requestBody:    `{"categories":["cves"]}`,
			setupMock:      func(m *MockScanService) {},
			expectedStatus: 400,
			expectedBody:   `{"error":"Invalid subdomain id"}`,
		},
		{
			name:           "Missing Categories",
			url:            "/api/subdomains/5/vulnscan",
			requestBody:    `{}`,
			setupMock:      func(m *MockScanService) {},
			expectedStatus: 400,
			expectedBody:   `{"error":"Invalid request payload"}`,
		},
		{
			name:        "Unknown Category",
			url:         "/api/subdomains/5/vulnscan",
			requestBody: `{"categories":["rce"]}`,
			setupMock: func(m *MockScanService) {
				m.On("TriggerVulnerabilityScan", mock.Anything, uint(5), []string{"rce"}).
					Return(fmt.Errorf("%w: unknown category \"rce\"", apperrors.ErrInvalidCategory))
			},
			expectedStatus: 400,
			expectedBody:   `{"error":"invalid finding category: unknown category \"rce\""}`,
		},
		{
			name:        "Unknown Subdomain",
			url:         "/api/subdomains/77/vulnscan",
			requestBody: `{"categories":["cves"]}`,
			setupMock: func(m *MockScanService) {
				m.On("TriggerVulnerabilityScan", mock.Anything, uint(77), []string{"cves"}).
					Return(fmt.Errorf("%w: 77", apperrors.ErrSubdomainNotFound))
			},
			expectedStatus: 404,
			expectedBody:   `{"error":"Subdomain not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			tt.setupMock(mockService)

			router := newTestRouter(NewScanHandler(mockService, logger.Discard()))
			w := serve(router, "POST", tt.url, tt.requestBody)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

func TestListSubdomainsAndResults_AliveFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockScanService)
	mockService.On("ListSubdomains", mock.Anything, "example.com", true).Return([]models.Subdomain{
		{ID: 2, ScanID: 1, Name: "a.example.com", HTTPAlive: true},
	}, nil)
	mockService.On("GroupedFindings", mock.Anything, "example.com", false).Return(map[uint]map[models.Category][]string{
		1: {},
		2: {models.CategoryCVEs: {"[x] [http] [high] https://a.example.com"}},
	}, nil)

	router := newTestRouter(NewScanHandler(mockService, logger.Discard()))

	w := serve(router, "GET", "/api/scans/example.com/subdomains?http_alive=yes", "")
	require.Equal(t, 200, w.Code)
	var subs []models.Subdomain
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "a.example.com", subs[0].Name)

	w = serve(router, "GET", "/api/scans/example.com/results", "")
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"1":{},"2":{"cves":["[x] [http] [high] https://a.example.com"]}}`, w.Body.String())

	mockService.AssertExpectations(t)
}

func TestListJobs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name         string
		query        string
		setupMock    func(*MockScanService)
		expectedCode int
		expectedBody string
	}{
		{
			name:  "page and limit passed through",
			query: "?page=2&limit=5",
			setupMock: func(m *MockScanService) {
				m.On("ListJobs", mock.Anything, 2, 5).
					Return(&services.JobPage{Jobs: []models.ScanJob{}, Total: 6, Page: 2, Limit: 5}, nil)
			},
			expectedCode: 200,
			expectedBody: `{"jobs":[],"total":6,"page":2,"limit":5}`,
		},
		{
			name:  "reports the limit the service applied",
			query: "?page=0&limit=500",
			setupMock: func(m *MockScanService) {
				m.On("ListJobs", mock.Anything, 0, 500).
					Return(&services.JobPage{Jobs: []models.ScanJob{}, Total: 0, Page: 1, Limit: 100}, nil)
			},
			expectedCode: 200,
			expectedBody: `{"jobs":[],"total":0,"page":1,"limit":100}`,
		},
		{
			name:  "store error",
			query: "",
			setupMock: func(m *MockScanService) {
				m.On("ListJobs", mock.Anything, 1, 20).Return(nil, errors.New("db error"))
			},
			expectedCode: 500,
			expectedBody: `{"error":"Failed to list scans"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			tt.setupMock(mockService)

			router := newTestRouter(NewScanHandler(mockService, logger.Discard()))
			w := serve(router, "GET", "/api/scans"+tt.query, "")

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

func TestProgressCategoriesHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockScanService)
	mockService.On("GetProgress", mock.Anything).Return(map[uint]models.Status{4: models.StatusRunning}, nil)
	mockService.On("Categories").Return([]models.Category{models.CategoryCVEs, models.CategoryTakeovers})
	mockService.On("SchedulerStatus").Return([]engine.PoolStatus{
		{Kind: engine.KindPipeline, Workers: 3, Running: 1},
		{Kind: engine.KindVuln, Workers: 3, Queued: 2},
	})

	router := newTestRouter(NewScanHandler(mockService, logger.Discard()))

	w := serve(router, "GET", "/api/progress", "")
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"4":"running"}`, w.Body.String())

	w = serve(router, "GET", "/api/categories", "")
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `["cves","takeovers"]`, w.Body.String())

	w = serve(router, "GET", "/healthz", "")
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"status":"ok","scheduler":[
		{"kind":"pipeline","workers":3,"running":1,"queued":0},
		{"kind":"vuln","workers":3,"running":0,"queued":2}]}`, w.Body.String())

	mockService.AssertExpectations(t)
}

func TestConfigHandler_GetTools(t *testing.T) {
	gin.SetMode(gin.TestMode)

	settings := tools.DefaultSettings()
	settings.TemplatesDir = "/opt/nuclei-templates"
	settings.Tools[tools.Nuclei] = tools.ToolConfig{Name: tools.Nuclei, Path: "/usr/bin/nuclei", Args: []string{"-rl", "50"}, Timeout: time.Minute}

	handler := NewConfigHandler(services.NewConfigService(tools.NewRegistry(settings)))
	router := gin.New()
	router.GET("/api/config/tools", handler.GetTools)

	w := serve(router, "GET", "/api/config/tools", "")
	require.Equal(t, 200, w.Code)

	var resp ConfigsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/opt/nuclei-templates", resp.TemplatesDir)
	require.Len(t, resp.Tools, 4)
	assert.Equal(t, "httpx", resp.Tools[0].Name)
	assert.Equal(t, ToolResponse{Name: "nuclei", Path: "/usr/bin/nuclei", Args: []string{"-rl", "50"}, Timeout: "1m0s"}, resp.Tools[2])
}

// Benchmark test to measure handler performance
func BenchmarkStartScan(b *testing.B) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockScanService)
	mockService.On("StartScan", mock.Anything, "example.com").
		Return(&models.ScanJob{ID: 1, Domain: "example.com", Status: models.StatusRunning}, nil)

	router := newTestRouter(NewScanHandler(mockService, logger.Discard()))

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		serve(router, "POST", "/api/scans", `{"domain":"example.com"}`)
	}
}
