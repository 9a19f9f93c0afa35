package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	"github.com/avtomat-kz/avtomat-api/internal/service"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

// tokens maps bearer tokens to claims.
type tokens map[string]*models.JWTClaims

func (t tokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

var testTokens = tokens{
	"admin":   {UserID: 1, Role: models.RoleAdmin, Username: "root"},
	"school":  {UserID: 10, Role: models.RoleSchool, Username: "sapa"},
	"student": {UserID: 50, Role: models.RoleStudent},
}

type authStub struct {
	lastLogin models.LoginRequest
}

func (a *authStub) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	a.lastLogin = req
	if req.Password != "secret" {
		return nil, appErrors.ErrInvalidCredentials
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600}, nil
}

func (a *authStub) Me(ctx context.Context, userID int64) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID, Username: "sapa", Role: models.RoleSchool}, nil
}

type applicationsStub struct {
	listReq   service.ApplicationListRequest
	who       models.StaffIdentity
	status    string
	updateErr error
	delivered bool
}

func (a *applicationsStub) List(ctx context.Context, who models.StaffIdentity, req service.ApplicationListRequest) ([]models.ApplicationDetail, *models.Pagination, error) {
	a.who, a.listReq = who, req
	if req.Status == "bogus" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	items := []models.ApplicationDetail{{Application: models.Application{ID: 5, Status: models.StatusNew}, CityName: "Almaty"}}
	return items, &models.Pagination{Page: req.Page, PageSize: 20, TotalCount: 1}, nil
}

func (a *applicationsStub) Get(ctx context.Context, who models.StaffIdentity, id int64) (*models.ApplicationDetail, error) {
	a.who = who
	if id != 5 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return &models.ApplicationDetail{Application: models.Application{ID: 5, Status: models.StatusNew}}, nil
}

func (a *applicationsStub) UpdateStatus(ctx context.Context, who models.StaffIdentity, id int64, raw string) (*models.ApplicationDetail, error) {
	a.who, a.status = who, raw
	if a.updateErr != nil {
		return nil, a.updateErr
	}
	status, _ := models.ParseApplicationStatus(raw)
	return &models.ApplicationDetail{Application: models.Application{ID: id, Status: status}}, nil
}

func (a *applicationsStub) SendResponse(ctx context.Context, who models.StaffIdentity, id int64) (bool, error) {
	return a.delivered, nil
}

type exporterStub struct {
	format string
}

func (e *exporterStub) Applications(ctx context.Context, who models.StaffIdentity, status, format string) (*service.ExportFile, error) {
	e.format = format
	if format == "xls" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	return &service.ExportFile{Filename: "applications-20240115-1400.csv", ContentType: "text/csv; charset=utf-8", Body: []byte("ID\n5\n")}, nil
}

type dashboardStub struct{}

func (dashboardStub) Stats(ctx context.Context, who models.StaffIdentity) (*models.DashboardStats, bool, error) {
	return &models.DashboardStats{Total: 3, ByStatus: map[models.ApplicationStatus]int{models.StatusNew: 3}}, true, nil
}

type analyticsStub struct {
	trustFor     int64
	refreshedAll bool
	limit        int
}

func (a *analyticsStub) TrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error) {
	a.trustFor = schoolID
	return &models.TrustIndex{SchoolID: schoolID, Value: 80}, nil
}

func (a *analyticsStub) RefreshTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error) {
	a.trustFor = schoolID
	return &models.TrustIndex{SchoolID: schoolID, Value: 75}, nil
}

func (a *analyticsStub) RefreshAllTrustIndices(ctx context.Context) error {
	a.refreshedAll = true
	return nil
}

func (a *analyticsStub) TrustLeaderboard(ctx context.Context, limit int) ([]models.TrustLeader, error) {
	a.limit = limit
	return []models.TrustLeader{}, nil
}

func (a *analyticsStub) DisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error) {
	if userID != 7 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "discipline index not computed yet")
	}
	return &models.DisciplineIndex{UserID: 7, Value: 90}, nil
}

type ownershipStub struct{}

func (ownershipStub) OwnedSchool(ctx context.Context, userID int64) (*models.School, error) {
	if userID == 10 {
		return &models.School{ID: 3, UserID: 10}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no school is linked to this account")
}

type catalogStub struct {
	autoType models.AutoType
}

func (c *catalogStub) Cities(ctx context.Context) ([]models.City, error) {
	return []models.City{{ID: 1, Name: "Almaty", Active: true}}, nil
}

func (c *catalogStub) SchoolsInCity(ctx context.Context, cityName string) ([]models.School, error) {
	if cityName != "Almaty" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "city not found")
	}
	return []models.School{{ID: 3, Name: "Sapa"}}, nil
}

func (c *catalogStub) InstructorsInCity(ctx context.Context, cityName string, autoType models.AutoType) ([]models.Instructor, error) {
	c.autoType = autoType
	return []models.Instructor{}, nil
}

type fixture struct {
	router    *gin.Engine
	apps      *applicationsStub
	exporter  *exporterStub
	analytics *analyticsStub
	catalog   *catalogStub
	auth      *authStub
	miniApp   *miniAppStore
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		apps:      &applicationsStub{},
		exporter:  &exporterStub{},
		analytics: &analyticsStub{},
		catalog:   &catalogStub{},
		auth:      &authStub{},
		miniApp:   newMiniAppStore(),
	}
	webApp := service.NewWebAppService(service.WebAppDeps{
		Students:     miniAppStudents{},
		Factory:      f.miniApp,
		Applications: f.miniApp,
	})
	f.router = gin.New()
	Register(f.router, Handlers{
		Auth:         NewAuthHandler(f.auth),
		WebApp:       NewWebAppHandler(webApp, service.NewInitDataVerifier(testBotToken, time.Hour), nil),
		Applications: NewApplicationHandler(f.apps, f.exporter, nil),
		Dashboard:    NewDashboardHandler(dashboardStub{}),
		Analytics:    NewAnalyticsHandler(f.analytics, ownershipStub{}),
		Catalog:      NewCatalogHandler(f.catalog),
		Health: NewHealthHandler(map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
		}),
		Metrics: NewMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})),
	}, testTokens)
	return f
}

func (f *fixture) do(method, path, token, body string) (*httptest.ResponseRecorder, responseEnvelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env responseEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestLogin(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodPost, "/api/v1/auth/login", "", `{"username":"sapa","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"access_token":"token"`)
	assert.Equal(t, "sapa", f.auth.lastLogin.Username)

	rec, _ = f.do(http.MethodPost, "/api/v1/auth/login", "", `{"username":"sapa","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(http.MethodPost, "/api/v1/auth/login", "", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffRoutesRequireToken(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/applications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/applications", "student", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMe(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodGet, "/api/v1/auth/me", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"id":10`)
}

func TestListApplications(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodGet, "/api/v1/applications?status=new&page=2&page_size=5", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ApplicationListRequest{Status: "new", Page: 2, PageSize: 5}, f.apps.listReq)
	assert.Equal(t, models.StaffIdentity{UserID: 10, Role: models.RoleSchool}, f.apps.who)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
	assert.Contains(t, env.Meta, "processing_time_ms")

	rec, _ = f.do(http.MethodGet, "/api/v1/applications?page=x", "school", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/applications?status=bogus", "school", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetApplication(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/applications/5", "admin", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(http.MethodGet, "/api/v1/applications/6", "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrNotFound.Code, env.Error.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/applications/abc", "admin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodPatch, "/api/v1/applications/5/status", "school", `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", f.apps.status)
	assert.Contains(t, string(env.Data), `"status":"confirmed"`)

	rec, _ = f.do(http.MethodPatch, "/api/v1/applications/5/status", "school", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.apps.updateErr = appErrors.Clone(appErrors.ErrIllegalStatus, "completed -> new is not allowed")
	rec, _ = f.do(http.MethodPatch, "/api/v1/applications/5/status", "school", `{"status":"new"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.apps.updateErr = appErrors.Clone(appErrors.ErrStatusConflict, "status changed concurrently")
	rec, _ = f.do(http.MethodPatch, "/api/v1/applications/5/status", "school", `{"status":"paid"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendResponse(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodPost, "/api/v1/applications/5/send-response", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":false}`, string(env.Data))
}

func TestExport(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/applications/export?format=csv", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="applications-20240115-1400.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "ID\n5\n", rec.Body.String())

	rec, _ = f.do(http.MethodGet, "/api/v1/applications/export?format=xls", "admin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardReportsCacheHit(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodGet, "/api/v1/dashboard", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, string(env.Data), `"total":3`)
}

func TestTrustScopedToOwnSchool(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/analytics/trust", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), f.analytics.trustFor)

	rec, _ = f.do(http.MethodGet, "/api/v1/analytics/trust?school_id=4", "school", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/analytics/trust", "admin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/analytics/trust?school_id=4", "admin", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4), f.analytics.trustFor)
}

func TestRefreshTrust(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodPost, "/api/v1/analytics/trust/refresh", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.analytics.refreshedAll)

	f = newFixture()
	rec, _ = f.do(http.MethodPost, "/api/v1/analytics/trust/refresh", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.analytics.refreshedAll)
	assert.Equal(t, int64(3), f.analytics.trustFor)
}

func TestDisciplineAdminOnly(t *testing.T) {
	f := newFixture()
	rec, env := f.do(http.MethodGet, "/api/v1/analytics/discipline/7", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"index_value":90`)

	rec, _ = f.do(http.MethodGet, "/api/v1/analytics/discipline/8", "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/analytics/discipline/7", "school", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeaderboardClampsLimit(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/analytics/trust/leaderboard?limit=500", "school", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLeaderboardSize, f.analytics.limit)

	f.do(http.MethodGet, "/api/v1/analytics/trust/leaderboard", "school", "")
	assert.Equal(t, defaultLeaderboardSize, f.analytics.limit)
}

func TestPublicCatalog(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/api/v1/cities", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/schools?city=Almaty", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/schools", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/schools?city=Paris", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/v1/instructors?city=Almaty&auto_type=manual", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AutoTypeManual, f.catalog.autoType)
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestReadyReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsUnavailableWithoutHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)

	NewMetricsHandler(nil).Prometheus(c)
	c.Writer.WriteHeaderNow() // gin's engine flushes the status after the handler chain

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
