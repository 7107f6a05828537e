package httptransport

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"userapikey/backend/internal/auth"
	"userapikey/backend/internal/auth/jwt"
	"userapikey/backend/internal/config"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/health"
	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/service"
	"userapikey/backend/internal/storage/memory"
	"userapikey/backend/internal/testutil"
)

const (
	testRedirect = "https://client.example.com/auth/callback"
	testPushURL  = "https://push.example.com/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	store   *memory.Store
	tokens  *jwt.Manager
	authSvc *auth.Service
	metrics *monitoring.Metrics
	privKey *rsa.PrivateKey
}

func testPolicy() domain.UserAPIPolicy {
	policy := domain.DefaultUserAPIPolicy()
	policy.AllowedRedirects = []string{testRedirect}
	policy.AllowedPushURLs = []string{testPushURL}
	return policy
}

func newTestServer(t *testing.T, policy domain.UserAPIPolicy, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := memory.NewStore()
	metrics := monitoring.NewMetrics()
	tokens := jwt.NewManager(strings.Repeat("s", 32), "test", time.Hour)

	configSvc := service.NewConfigService(store, policy)
	require.NoError(t, configSvc.Bootstrap())

	keys := service.NewKeyStore(store, 3, time.Millisecond, metrics, log)
	issuance := service.NewIssuanceService(configSvc, service.NewPolicyGate(log), keys, 32, metrics, log)
	authSvc := auth.NewService(store, tokens, log)

	router := NewRouter(RouterDependencies{
		Config:          &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		AuthService:     authSvc,
		Sessions:        auth.NewSessionResolver(tokens, store, log),
		IssuanceService: issuance,
		KeyStore:        keys,
		ConfigService:   configSvc,
		Store:           store,
		Metrics:         metrics,
		Health:          health.NewHealthChecker(store, prometheus.NewRegistry(), log),
		RateLimiter:     limiter,
		Logger:          log,
	})

	return &testServer{
		router:  router,
		store:   store,
		tokens:  tokens,
		authSvc: authSvc,
		metrics: metrics,
		privKey: testutil.RSAKey(t),
	}
}

// login 创建用户并返回访问令牌
func (s *testServer) login(t *testing.T, username string, role domain.UserRole, trustLevel int) string {
	t.Helper()
	_, err := s.authSvc.CreateUser(auth.CreateUserInput{
		Email:      username + "@example.com",
		Username:   username,
		Password:   "Password123!",
		Role:       role,
		TrustLevel: trustLevel,
	})
	require.NoError(t, err)

	resp, err := s.authSvc.Login(&domain.LoginRequest{Username: username, Password: "Password123!"})
	require.NoError(t, err)
	return resp.AccessToken
}

func (s *testServer) issueForm(t *testing.T, access string) url.Values {
	t.Helper()
	return url.Values{
		"access":           {access},
		"client_id":        {strings.Repeat("x", 32)},
		"auth_redirect":    {testRedirect},
		"application_name": {"foo"},
		"public_key":       {testutil.PublicKeyPEM(t, s.privKey)},
		"nonce":            {"nonce-123"},
	}
}

func (s *testServer) postIssue(form url.Values, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/user-api-key", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) payload(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", location.Host)
	assert.Equal(t, "/auth/callback", location.Path)
	return testutil.DecryptPayload(t, s.privKey, location.Query().Get(service.PayloadParam))
}

func TestProbe(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/user-api-key/new", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Auth-Api-Version"))
	assert.Empty(t, rec.Body.String())
}

func TestIssue_Success(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	token := s.login(t, "alice", domain.RoleUser, 1)

	form := s.issueForm(t, "rp")
	form.Set("push_url", testPushURL)
	fields := s.payload(t, s.postIssue(form, token))

	assert.Equal(t, "pr", fields["access"])
	assert.Equal(t, "nonce-123", fields["nonce"])
	assert.Len(t, fields["key"], service.SecretLength)

	// 客户端用签发的密钥调用接口
	req := httptest.NewRequest(http.MethodGet, "/v1/user-api-key/me", nil)
	req.Header.Set(middleware.HeaderUserAPIKey, fields["key"])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data userAPIKeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pr", resp.Data.Access)
	assert.Equal(t, "foo", resp.Data.ApplicationName)
	require.NotNil(t, resp.Data.PushURL)
	assert.Equal(t, testPushURL, *resp.Data.PushURL)
}

func TestClientKeyLookup(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	token := s.login(t, "alice", domain.RoleUser, 1)
	clientPath := "/v1/auth/user-api-keys/" + strings.Repeat("x", 32)

	rec := s.do(http.MethodGet, clientPath, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.payload(t, s.postIssue(s.issueForm(t, "r"), token))

	rec = s.do(http.MethodGet, clientPath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data userAPIKeyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r", resp.Data.Access)
	assert.Equal(t, strings.Repeat("x", 32), resp.Data.ClientID)

	// 其他用户看不到
	other := s.login(t, "bob", domain.RoleUser, 1)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, clientPath, other, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, clientPath, "", nil).Code)
}

func TestIssue_QueryParameters(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	token := s.login(t, "alice", domain.RoleUser, 1)

	req := httptest.NewRequest(http.MethodPost, "/user-api-key?"+s.issueForm(t, "r").Encode(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "r", s.payload(t, rec)["access"])
}

func TestIssue_NotLoggedIn(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)

	rec := s.postIssue(s.issueForm(t, "r"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, MsgAuthRequired, resp.Msg)
}

func TestIssue_Forbidden(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	token := s.login(t, "newbie", domain.RoleUser, 0)

	// 信任等级不足
	rec := s.postIssue(s.issueForm(t, "r"), token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())

	// 回调地址不在允许列表中
	token = s.login(t, "alice", domain.RoleUser, 1)
	form := s.issueForm(t, "r")
	form.Set("auth_redirect", "https://evil.example.com/callback")
	rec = s.postIssue(form, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	// 相对地址或空地址同样按允许列表处理
	for _, redirect := range []string{"/callback", ""} {
		form = s.issueForm(t, "r")
		form.Set("auth_redirect", redirect)
		rec = s.postIssue(form, token)
		assert.Equal(t, http.StatusForbidden, rec.Code, redirect)
		assert.Empty(t, rec.Body.String())
	}

	// 默认策略不允许写权限，只请求写权限时没有可授予的权限
	rec = s.postIssue(s.issueForm(t, "w"), token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIssue_BadRequest(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	token := s.login(t, "alice", domain.RoleUser, 1)

	cases := map[string]func(url.Values){
		"unknown scope":   func(f url.Values) { f.Set("access", "rx") },
		"short client id": func(f url.Values) { f.Set("client_id", "short") },
		"bad public key":  func(f url.Values) { f.Set("public_key", "not a key") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			form := s.issueForm(t, "r")
			mutate(form)
			rec := s.postIssue(form, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	// 校验失败不会写入任何记录
	users, err := s.store.GetUserByUsername("alice")
	require.NoError(t, err)
	_, err = s.store.GetUserAPIKeyByClient(users.ID, strings.Repeat("x", 32))
	assert.Error(t, err)
}

func TestIssue_RateLimited(t *testing.T) {
	s := newTestServer(t, testPolicy(), middleware.NewRateLimiter(1, 1, time.Minute, nil))

	assert.Equal(t, http.StatusUnauthorized, s.postIssue(s.issueForm(t, "r"), "").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.postIssue(s.issueForm(t, "r"), "").Code)
}

func TestAdminPolicy(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)
	userToken := s.login(t, "alice", domain.RoleUser, 1)
	adminToken := s.login(t, "root", domain.RoleAdmin, 4)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/admin/user-api/policy", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/admin/user-api/policy", userToken, nil).Code)

	rec := s.do(http.MethodGet, "/v1/admin/user-api/policy", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Data domain.UserAPIPolicy `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testPolicy(), got.Data)

	// 写权限默认关闭，开启后下一次请求生效
	assert.Equal(t, http.StatusForbidden, s.postIssue(s.issueForm(t, "w"), userToken).Code)

	rec = s.do(http.MethodPut, "/v1/admin/user-api/policy", adminToken, map[string]interface{}{"allowWrite": true})
	require.Equal(t, http.StatusOK, rec.Code)

	fields := s.payload(t, s.postIssue(s.issueForm(t, "rw"), userToken))
	assert.Equal(t, "rw", fields["access"])

	rec = s.do(http.MethodPut, "/v1/admin/user-api/policy", adminToken, map[string]interface{}{"allowedRedirects": []string{"not-a-url"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/admin/user-api/policy/reset", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusForbidden, s.postIssue(s.issueForm(t, "w"), userToken).Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)

	rec := s.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Password123!",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.AccessTokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = s.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "Password123!",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "Password123!"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Data authResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = s.do(http.MethodGet, "/v1/auth/me", login.Data.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Data userResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Data.Username)
	assert.Equal(t, 0, me.Data.TrustLevel)

	// 新注册用户信任等级为 0，默认策略要求 1
	assert.Equal(t, http.StatusForbidden, s.postIssue(s.issueForm(t, "r"), login.Data.AccessToken).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testPolicy(), nil)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"OK"`)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", "", nil).Code)

	s.postIssue(s.issueForm(t, "r"), "")

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `userapi_issuance_total{outcome="not_logged_in"} 1`)
}
