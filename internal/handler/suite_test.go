package handler_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/handler"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/Baaaki/roomcast/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

const testSecret = "test-secret-key"

// apiSuite serves the full router over an in-memory database and miniredis.
type apiSuite struct {
	suite.Suite
	testDB    *testutil.TestDatabase
	testRedis *testutil.TestRedis
	journal   *audit.Journal
	router    *gin.Engine
}

func (s *apiSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	s.testDB = testutil.SetupTestDatabase(s.T())
	s.testRedis = testutil.SetupTestRedis(s.T())

	journal, err := audit.OpenJournal(filepath.Join(s.T().TempDir(), "audit.log"))
	s.Require().NoError(err)
	s.journal = journal

	repos := repository.New(s.testDB.DB)
	registry := broker.NewRegistry()
	bus := broker.NewLocalBus(registry)
	members := service.NewMembershipService(repos, registry, bus, audit.NewAuditor(journal, nil), time.Hour)
	ledger := service.NewReadLedger(repos, members)
	rooms := service.NewRoomService(repos, members, ledger)
	messages := service.NewMessageService(repos, members, ledger, bus)
	media := service.NewMediaService(repos, s.T().TempDir(), 1024)
	auth := service.NewAuthService(repos, testSecret, time.Hour, "test")

	limiter := middleware.NewRateLimiter(s.testRedis.Client, middleware.RateLimiterConfig{
		MaxRequests: 1000,
		Window:      time.Minute,
	})

	handlers := handler.NewHandlers(auth, rooms, members, ledger, messages, media)
	handlers.RateLimiter = limiter
	handlers.Admin = handler.NewAdminHandler(journal, limiter)
	s.router = handler.NewRouter(handlers)
}

func (s *apiSuite) TearDownTest() {
	_ = s.journal.Close()
	s.testRedis.Teardown(s.T())
	s.testDB.Teardown(s.T())
}

func (s *apiSuite) user(name string) *models.User {
	return testutil.CreateUser(s.T(), s.testDB.DB, name)
}

func (s *apiSuite) token(user *models.User) string {
	token, err := utils.GenerateToken(user, testSecret, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *apiSuite) do(method, path string, body interface{}, as *models.User) *httptest.ResponseRecorder {
	token := ""
	if as != nil {
		token = s.token(as)
	}
	return testutil.PerformRequest(s.T(), s.router, method, path, body, token)
}

func (s *apiSuite) upload(as *models.User, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	s.Require().NoError(err)
	_, err = part.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/media", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(as))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *apiSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	testutil.DecodeJSON(s.T(), w, &body)
	return body
}
