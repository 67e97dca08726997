package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/auth"
	"github.com/agorad-dev/agorad/internal/config"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

// fakeEnqueuer records enqueued tasks instead of talking to Redis
type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	fail  bool
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("redis unavailable")
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "test", Type: task.Type(), Queue: "default"}, nil
}

func (f *fakeEnqueuer) taskTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.tasks))
	for _, task := range f.tasks {
		types = append(types, task.Type())
	}
	return types
}

func newTestServer(t *testing.T) (*Server, *fakeEnqueuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Address:    ":0",
			CORSOrigin: "http://localhost:5173",
		},
		Auth: config.AuthConfig{
			ProfileFetchTimeout: 2 * time.Second,
		},
	}

	enqueuer := &fakeEnqueuer{}
	srv, err := NewWithDeps(cfg, zerolog.Nop(), "test", db, enqueuer)
	require.NoError(t, err)

	return srv, enqueuer
}

func doRequest(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// runSetup initializes the deployment with a super_admin and returns their
// token
func runSetup(t *testing.T, s *Server) string {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/setup", "", SetupRequest{
		Email:    "root@example.org",
		Password: "correct-horse-battery",
		Username: "root",
		FullName: "Root Admin",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// createAccount inserts an identity and profile directly and returns a
// token for it. Requires runSetup to have initialized the JWT secret.
func createAccount(t *testing.T, s *Server, email, username string, status access.Status, role access.Role) (string, string) {
	t.Helper()

	hash, err := auth.HashPassword("correct-horse-battery")
	require.NoError(t, err)

	user := &models.User{Email: email, PasswordHash: hash}
	require.NoError(t, s.db.Create(user).Error)
	profile := &models.Profile{
		UserID:   user.ID,
		Username: username,
		Status:   status,
		Role:     role,
	}
	require.NoError(t, s.db.Create(profile).Error)

	token, err := auth.GenerateToken(user.ID, email, string(role))
	require.NoError(t, err)
	return user.ID, token
}

func TestSetupFlow(t *testing.T) {
	s, _ := newTestServer(t)

	token := runSetup(t, s)

	// Setup is single-shot
	w := doRequest(t, s, http.MethodPost, "/api/setup", "", SetupRequest{
		Email:    "second@example.org",
		Password: "correct-horse-battery",
		Username: "second",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// The created account is an approved super_admin
	w = doRequest(t, s, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.NotNil(t, me.Profile)
	assert.Equal(t, access.RoleSuperAdmin, me.Profile.Role)
	assert.Equal(t, access.StatusApproved, me.Profile.Status)
	assert.True(t, me.Capabilities.CanAdminister)
	assert.Equal(t, "found", me.Resolution)
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)

	w := doRequest(t, s, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    "root@example.org",
		Password: "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "root@example.org", resp.User.Email)

	w = doRequest(t, s, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    "root@example.org",
		Password: "wrong-password-entirely",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnauthenticatedIsRedirectedToLogin(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)

	w := doRequest(t, s, http.MethodGet, "/api/sections", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, access.LoginPath, body["redirect_to"])
}

func TestSignupEnqueuesProvisioning(t *testing.T) {
	s, enqueuer := newTestServer(t)
	runSetup(t, s)

	w := doRequest(t, s, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "new@example.org",
		Password: "correct-horse-battery",
		Username: "newcomer",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, enqueuer.taskTypes(), tasks.TypeProvisionProfile)

	// Until the worker provisions the profile, resolution reports not_found
	w = doRequest(t, s, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    "new@example.org",
		Password: "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doRequest(t, s, http.MethodGet, "/api/auth/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Nil(t, me.Profile)
	assert.Equal(t, "not_found", me.Resolution)

	// And the guards redirect to login
	w = doRequest(t, s, http.MethodGet, "/api/sections", resp.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Duplicate email is refused
	w = doRequest(t, s, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "new@example.org",
		Password: "correct-horse-battery",
		Username: "newcomer2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignupFallsBackWhenEnqueueFails(t *testing.T) {
	s, enqueuer := newTestServer(t)
	runSetup(t, s)
	enqueuer.fail = true

	w := doRequest(t, s, http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "new@example.org",
		Password: "correct-horse-battery",
		Username: "newcomer",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// Profile was provisioned inline
	var profile models.Profile
	require.NoError(t, s.db.Where("username = ?", "newcomer").First(&profile).Error)
	assert.Equal(t, access.StatusPendingApproval, profile.Status)
}

func TestPendingAccountIsLockedOut(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)
	_, token := createAccount(t, s, "pending@example.org", "pending", access.StatusPendingApproval, access.RoleUser)

	w := doRequest(t, s, http.MethodGet, "/api/sections", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, access.LoginPath, body["redirect_to"])
	assert.Equal(t, "Votre compte est en attente d'approbation.", body["error"])

	// Elevated destinations send unapproved accounts home with a 403
	w = doRequest(t, s, http.MethodGet, "/api/admin/users", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, access.HomePath, body["redirect_to"])
}

func TestRejectedAccountIsLockedOut(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)
	_, token := createAccount(t, s, "rejected@example.org", "rejected", access.StatusRejected, access.RoleUser)

	w := doRequest(t, s, http.MethodGet, "/api/sections", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "L'accès à votre compte a été refusé.", body["error"])
}

func TestApprovalFlow(t *testing.T) {
	s, enqueuer := newTestServer(t)
	adminToken := runSetup(t, s)
	userID, userToken := createAccount(t, s, "pending@example.org", "pending", access.StatusPendingApproval, access.RoleUser)

	// Locked out before approval
	w := doRequest(t, s, http.MethodGet, "/api/sections", userToken, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The account shows up in the approval queue
	w = doRequest(t, s, http.MethodGet, "/api/admin/users/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	queue := decodeBody(t, w)
	assert.Equal(t, float64(1), queue["count"])

	w = doRequest(t, s, http.MethodPost, "/api/admin/users/"+userID+"/approve", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, enqueuer.taskTypes(), tasks.TypeApprovalNotice)

	// Approval is visible on the next request, no re-login needed
	w = doRequest(t, s, http.MethodGet, "/api/sections", userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModeratorCannotAdminister(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)
	_, modToken := createAccount(t, s, "mod@example.org", "mod", access.StatusApproved, access.RoleModerator)

	// Moderation panel is open
	w := doRequest(t, s, http.MethodGet, "/api/admin/users", modToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Provisioning accounts is not
	w = doRequest(t, s, http.MethodPost, "/api/admin/users", modToken, CreateUserRequest{
		Email:    "provisioned@example.org",
		Username: "provisioned",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Accès refusé. Cette action requiert un compte administrateur.", body["error"])
}

func TestAdminProvisionsAccount(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)

	w := doRequest(t, s, http.MethodPost, "/api/admin/users", adminToken, CreateUserRequest{
		Email:    "provisioned@example.org",
		Username: "provisioned",
		Role:     "moderator",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["temp_password"])

	// Admin-created accounts skip the approval queue
	var profile models.Profile
	require.NoError(t, s.db.Where("username = ?", "provisioned").First(&profile).Error)
	assert.Equal(t, access.StatusApproved, profile.Status)
	assert.Equal(t, access.RoleModerator, profile.Role)
}

func TestAdminEditsProfileFields(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)
	memberID, _ := createAccount(t, s, "member@example.org", "member", access.StatusApproved, access.RoleUser)
	createAccount(t, s, "other@example.org", "taken", access.StatusApproved, access.RoleUser)

	username := "renamed"
	fullName := "Membre Renommé"
	w := doRequest(t, s, http.MethodPatch, "/api/admin/users/"+memberID, adminToken, UpdateUserProfileRequest{
		Username: &username,
		FullName: &fullName,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var profile models.Profile
	require.NoError(t, s.db.Where("user_id = ?", memberID).First(&profile).Error)
	assert.Equal(t, "renamed", profile.Username)
	assert.Equal(t, "Membre Renommé", profile.FullName)
	// Untouched fields survive a partial edit
	assert.Equal(t, access.StatusApproved, profile.Status)
	assert.Equal(t, access.RoleUser, profile.Role)

	// Another account's username is refused
	clash := "taken"
	w = doRequest(t, s, http.MethodPatch, "/api/admin/users/"+memberID, adminToken, UpdateUserProfileRequest{
		Username: &clash,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Moderators cannot edit profiles
	_, modToken := createAccount(t, s, "mod@example.org", "mod", access.StatusApproved, access.RoleModerator)
	w = doRequest(t, s, http.MethodPatch, "/api/admin/users/"+memberID, modToken, UpdateUserProfileRequest{
		FullName: &fullName,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSelfProtectionRules(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)

	var admin models.User
	require.NoError(t, s.db.Where("email = ?", "root@example.org").First(&admin).Error)

	// Cannot delete own account
	w := doRequest(t, s, http.MethodDelete, "/api/admin/users/"+admin.ID, adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Cannot lower own role below administration
	w = doRequest(t, s, http.MethodPatch, "/api/admin/users/"+admin.ID+"/role", adminToken, SetRoleRequest{Role: "user"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSectionLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)
	_, userToken := createAccount(t, s, "member@example.org", "member", access.StatusApproved, access.RoleUser)

	// Members cannot create sections
	w := doRequest(t, s, http.MethodPost, "/api/sections", userToken, CreateSectionRequest{
		Title: "Général", Slug: "general",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/sections", adminToken, CreateSectionRequest{
		Title: "Général", Slug: "general", Position: 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate slug is refused
	w = doRequest(t, s, http.MethodPost, "/api/sections", adminToken, CreateSectionRequest{
		Title: "Autre", Slug: "general",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Members can browse
	w = doRequest(t, s, http.MethodGet, "/api/sections/general", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	newTitle := "Discussions générales"
	w = doRequest(t, s, http.MethodPatch, "/api/sections/general", adminToken, UpdateSectionRequest{Title: &newTitle})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/sections/general", adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/sections/general", userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	runSetup(t, s)
	_, userToken := createAccount(t, s, "member@example.org", "member", access.StatusApproved, access.RoleUser)
	_, modToken := createAccount(t, s, "mod@example.org", "mod", access.StatusApproved, access.RoleModerator)

	w := doRequest(t, s, http.MethodPost, "/api/reports", userToken, CreateReportRequest{
		Subject: "Spam dans la section générale",
		Body:    "Plusieurs messages publicitaires.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	reportID := body["id"].(string)

	// Members cannot see the moderation queue
	w = doRequest(t, s, http.MethodGet, "/api/reports", userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code) // route only exists under /admin

	w = doRequest(t, s, http.MethodGet, "/api/admin/reports?status=open", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody(t, w)
	assert.Equal(t, float64(1), list["count"])

	w = doRequest(t, s, http.MethodPost, "/api/admin/reports/"+reportID+"/resolve", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/admin/reports?status=open", modToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = decodeBody(t, w)
	assert.Equal(t, float64(0), list["count"])
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)
	createAccount(t, s, "pending@example.org", "pending", access.StatusPendingApproval, access.RoleUser)

	w := doRequest(t, s, http.MethodGet, "/api/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats DashboardStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.PendingAccounts)
	assert.Equal(t, int64(1), stats.ApprovedUsers)
}

func TestDeletedAccountTokenIsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken := runSetup(t, s)
	userID, userToken := createAccount(t, s, "member@example.org", "member", access.StatusApproved, access.RoleUser)

	w := doRequest(t, s, http.MethodDelete, "/api/admin/users/"+userID, adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The still-valid token no longer resolves to an identity
	w = doRequest(t, s, http.MethodGet, "/api/sections", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
