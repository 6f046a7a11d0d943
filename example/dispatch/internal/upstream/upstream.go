// Package upstream is a small gin service the example client talks to.
// It answers with code/data/message envelopes and checks hashed tokens.
package upstream

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/config"
	"github.com/kroma-labs/apisdk-go/httpclient"
	"github.com/rs/zerolog/log"
)

// Business codes returned in the envelope.
const (
	CodeOK           = 0
	CodeUnauthorized = 40100
	CodeNotFound     = 40401
	CodeInvalidUser  = 40002
)

// User is the resource served by the upstream.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Server holds an in-memory user table.
type Server struct {
	name string

	mu     sync.RWMutex
	users  map[int]User
	nextID int
}

// New returns a server seeded with two users.
func New(name string) *Server {
	return &Server{
		name: name,
		users: map[int]User{
			1: {ID: 1, Name: "Alice", Email: "alice@example.com"},
			2: {ID: 2, Name: "Bob", Email: "bob@example.com"},
		},
		nextID: 3,
	}
}

// Handler returns the gin engine serving the API under /api.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.authenticate)

	api := r.Group("/api")
	api.GET("/users/:id", s.getUser)
	api.POST("/users", s.createUser)
	api.GET("/flaky", s.flaky)
	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info().Str("upstream", s.name).Str("addr", addr).Msg("starting upstream")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func envelope(c *gin.Context, status int, code int, data any, message string) {
	c.Header(httpclient.HeaderRequestID, c.GetHeader(httpclient.HeaderRequestID))
	c.Header("X-Upstream", c.GetString("upstream"))
	c.AbortWithStatusJSON(status, gin.H{"code": code, "data": data, "message": message})
}

func (s *Server) authenticate(c *gin.Context) {
	c.Set("upstream", s.name)

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	parsed, err := httpclient.ParseHashedToken(token)
	if err != nil || parsed.AppID != config.AppID ||
		parsed.IsExpired(config.TokenTTL, 0) ||
		!parsed.IsSigned(config.AppSecret, httpclient.HashSHA256) {
		envelope(c, http.StatusUnauthorized, CodeUnauthorized, nil, "invalid token")
		return
	}
	c.Next()
}

func (s *Server) getUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		envelope(c, http.StatusOK, CodeInvalidUser, nil, "user id must be numeric")
		return
	}

	s.mu.RLock()
	user, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		envelope(c, http.StatusOK, CodeNotFound, nil, "user not found")
		return
	}
	envelope(c, http.StatusOK, CodeOK, user, "")
}

func (s *Server) createUser(c *gin.Context) {
	var user User
	if err := c.ShouldBindJSON(&user); err != nil || user.Name == "" {
		envelope(c, http.StatusOK, CodeInvalidUser, nil, "name is required")
		return
	}

	s.mu.Lock()
	user.ID = s.nextID
	s.nextID++
	s.users[user.ID] = user
	s.mu.Unlock()

	envelope(c, http.StatusCreated, CodeOK, user, "")
}

func (s *Server) flaky(c *gin.Context) {
	if rand.Float64() < config.FlakyRate { //nolint:gosec // demo failure rate
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	envelope(c, http.StatusOK, CodeOK, gin.H{"upstream": s.name}, "")
}
