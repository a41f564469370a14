package http

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"futures_agent/internal/orchestrator"
	"futures_agent/internal/store"
	"futures_agent/internal/trader"
)

const readTimeout = 15 * time.Second

// Server exposes the trading agent over a small REST API.
type Server struct {
	engine  *gin.Engine
	service *orchestrator.Service
	repo    store.Repository
	trader  *trader.Manager
	addr    string
}

func NewServer(addr string, service *orchestrator.Service, repo store.Repository, tr *trader.Manager) *Server {
	s := &Server{
		engine:  gin.Default(),
		service: service,
		repo:    repo,
		trader:  tr,
		addr:    addr,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/cycles/run", s.handleRunCycle)
		api.GET("/executions", s.handleListExecutions)
		api.GET("/executions/:id", s.handleGetExecution)
		api.GET("/executions/:id/operations", s.handleListOperations)
		api.GET("/operations", s.handleListAllOperations)
		api.GET("/positions", s.handlePositions)
		api.GET("/balance", s.handleBalance)
		api.GET("/performance", s.handlePerformance)
	}
}

// Run blocks serving HTTP.
func (s *Server) Run() error {
	log.Printf("[接口] HTTP 服务启动 %s", s.addr)
	return s.engine.Run(s.addr)
}

type runCycleRequest struct {
	Currencies []string `json:"currencies"`
}

// handleRunCycle triggers one cycle synchronously and returns the full
// record. The cycle enforces its own timeout.
func (s *Server) handleRunCycle(c *gin.Context) {
	var req runCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	currencies := req.Currencies
	if len(currencies) == 0 {
		currencies = s.service.Currencies()
	}
	result := s.service.RunCycleFor(c.Request.Context(), currencies)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "15"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	executions, err := s.repo.ListExecutions(ctx, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.repo.CountExecutions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"total":      total,
		"page":       page,
		"page_size":  pageSize,
	})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	execution, err := s.repo.GetExecution(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (s *Server) handleListOperations(c *gin.Context) {
	s.listOperations(c, c.Param("id"))
}

func (s *Server) handleListAllOperations(c *gin.Context) {
	s.listOperations(c, c.Query("execution_id"))
}

func (s *Server) listOperations(c *gin.Context, executionID string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	ops, err := s.repo.ListOperations(ctx, executionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

func (s *Server) handlePositions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	positions, err := s.trader.GetOpenPositions(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleBalance(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	balance, err := s.trader.GetBalance(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) handlePerformance(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	perf, err := s.trader.GetDailyPerformance(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, perf)
}
