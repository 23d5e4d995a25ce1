package server

import (
	"net/http"

	"github.com/duynguyendang/sq8/internal/manager"
	"github.com/gin-gonic/gin"
)

// Limits caps request sizes accepted by the API.
type Limits struct {
	// MaxSamples is the longest sample sequence accepted in one request.
	MaxSamples int
	// MaxBatch is the largest number of sequences in one batch request.
	MaxBatch int
}

// Server holds the state for the REST API server.
type Server struct {
	manager *manager.DatasetManager
	limits  Limits
	router  *gin.Engine
}

// NewServer creates a new Server instance.
func NewServer(mgr *manager.DatasetManager, limits Limits) *Server {
	r := gin.Default()
	s := &Server{
		manager: mgr,
		limits:  limits,
		router:  r,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mostly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server on the specified address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/v1")
	v1.POST("/encode", s.handleEncode)
	v1.POST("/encode/batch", s.handleEncodeBatch)
	v1.POST("/decode", s.handleDecode)
	v1.POST("/decode/batch", s.handleDecodeBatch)

	v1.GET("/datasets", s.handleListDatasets)
	v1.POST("/datasets/:dataset", s.handleCreateDataset)
	v1.GET("/datasets/:dataset/blobs", s.handleListBlobs)
	v1.POST("/datasets/:dataset/blobs", s.handlePutBlob)
	v1.GET("/datasets/:dataset/blobs/:id", s.handleGetBlob)
	v1.GET("/datasets/:dataset/blobs/:id/samples", s.handleGetSamples)
	v1.DELETE("/datasets/:dataset/blobs/:id", s.handleDeleteBlob)
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}
