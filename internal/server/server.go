// Package server exposes a backend.TaskStore over the todocal REST protocol,
// guarded by HS256 bearer tokens.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"todocal/backend"
	"todocal/internal/calendar"
	"todocal/internal/utils"
)

const subjectKey = "subject"

// Server is the REST service
type Server struct {
	store  backend.TaskStore
	secret []byte
	router *gin.Engine
}

// NewServer creates a server over store. secret signs and verifies tokens.
func NewServer(store backend.TaskStore, secret []byte) (*Server, error) {
	if len(secret) == 0 {
		return nil, errors.New("server: jwt secret is required")
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		store:  store,
		secret: secret,
		router: router,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", s.authenticate)
	{
		api.GET("/tasks", s.handleGetTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.PUT("/tasks", s.handleUpdateTask)
		api.DELETE("/tasks", s.handleDeleteTask)
		api.POST("/completions", s.handleCompletions)
	}

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		utils.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// authenticate rejects a missing token with 401 and an invalid or expired
// one with 403.
func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenStr) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
		return
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		utils.Debugf("rejected token: %v", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
		return
	}

	c.Set(subjectKey, claims.Subject)
	c.Next()
}

// Request bodies of the protocol.
type (
	createBody struct {
		DateKey calendar.DateKey   `json:"dateKey"`
		Task    *calendar.Template `json:"task"`
	}
	updateBody struct {
		DateKey   calendar.DateKey   `json:"dateKey"`
		TaskIndex *int               `json:"taskIndex"`
		Task      *calendar.Template `json:"task"`
	}
	deleteBody struct {
		DateKey   calendar.DateKey `json:"dateKey"`
		TaskIndex *int             `json:"taskIndex"`
	}
	completionsBody struct {
		Completions calendar.Overlay `json:"completions"`
	}
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func validDateKey(c *gin.Context, key calendar.DateKey) bool {
	if !calendar.IsDateKey(string(key)) {
		badRequest(c, fmt.Sprintf("invalid dateKey %q", key))
		return false
	}
	return true
}

// storeError maps store failures onto responses.
func storeError(c *gin.Context, err error) {
	if errors.Is(err, backend.ErrIndexOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	utils.Errorf("store: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
}

func (s *Server) handleGetTasks(c *gin.Context) {
	store, err := s.store.FetchAll(c.Request.Context())
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, store)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !validDateKey(c, body.DateKey) {
		return
	}
	if body.Task == nil || strings.TrimSpace(body.Task.Title) == "" {
		badRequest(c, "task with a title is required")
		return
	}
	if body.Task.ID == "" {
		body.Task.ID = backend.GenerateID()
	}

	if err := s.store.Create(c.Request.Context(), body.DateKey, *body.Task); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": body.Task})
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var body updateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !validDateKey(c, body.DateKey) {
		return
	}
	if body.TaskIndex == nil || *body.TaskIndex < 0 || body.Task == nil {
		badRequest(c, "taskIndex and task are required")
		return
	}

	if err := s.store.Update(c.Request.Context(), body.DateKey, *body.TaskIndex, *body.Task); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	var body deleteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !validDateKey(c, body.DateKey) {
		return
	}
	if body.TaskIndex == nil || *body.TaskIndex < 0 {
		badRequest(c, "taskIndex is required")
		return
	}

	if err := s.store.Remove(c.Request.Context(), body.DateKey, *body.TaskIndex); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCompletions(c *gin.Context) {
	var body completionsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.Completions == nil {
		body.Completions = calendar.Overlay{}
	}

	if err := s.store.SetCompletions(c.Request.Context(), body.Completions); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
