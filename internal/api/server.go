// Package api exposes the catalog, draft sessions and orders over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-order/internal/archive"
	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/recognition"
	"github.com/loqalabs/loqa-order/internal/session"
	"github.com/loqalabs/loqa-order/internal/store"
	"github.com/loqalabs/loqa-order/internal/voiceorder"
)

type Server struct {
	cfg     config.HTTPConfig
	orders  *voiceorder.Service
	store   store.Store
	archive archive.Archiver
	log     *slog.Logger
	clock   func() time.Time
}

func NewServer(cfg config.HTTPConfig, orders *voiceorder.Service, st store.Store, arch archive.Archiver, log *slog.Logger) *Server {
	if arch == nil {
		arch = archive.Noop{}
	}
	return &Server{
		cfg:     cfg,
		orders:  orders,
		store:   st,
		archive: arch,
		log:     log.With(slog.String("component", "api")),
		clock:   time.Now,
	}
}

// Router builds the gin engine with every API route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.cfg.MaxUploadBytes
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(corsConfig(s.cfg.CORSOrigins)))

	api := r.Group("/api")
	{
		api.GET("/menu", s.listItems)
		api.GET("/menu/:id", s.getItem)
		api.POST("/menu", s.createItem)
		api.PUT("/menu/:id", s.updateItem)
		api.DELETE("/menu/:id", s.deleteItem)
		api.POST("/menu/:id/image", s.uploadImage)

		api.POST("/audio", s.uploadAudio)
		api.POST("/recognize", s.recognize)

		api.POST("/drafts", s.newDraft)
		api.GET("/drafts/:id", s.getDraft)
		api.DELETE("/drafts/:id", s.discardDraft)
		api.POST("/drafts/:id/items", s.addDraftItem)
		api.PATCH("/drafts/:id/items/:itemID", s.setDraftQuantity)
		api.DELETE("/drafts/:id/items/:itemID", s.removeDraftItem)
		api.PUT("/drafts/:id/note", s.setDraftNote)
		api.POST("/drafts/:id/revert", s.revertDraft)
		api.POST("/drafts/:id/commit", s.commitDraft)
		api.GET("/drafts/:id/events", s.draftEvents)

		api.GET("/orders", s.listOrders)
		api.POST("/orders", s.createOrder)
		api.GET("/stats", s.stats)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var backend *recognition.BackendError
	switch {
	case errors.As(err, &backend):
		c.JSON(http.StatusBadGateway, gin.H{"status": session.StatusFailed, "error": err.Error()})
		return
	case errors.Is(err, draft.ErrState), errors.Is(err, store.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, draft.ErrInvalidQuantity),
		errors.Is(err, draft.ErrInvalidItem),
		errors.Is(err, draft.ErrNoteTooLong),
		errors.Is(err, draft.ErrEmptyOrder),
		errors.Is(err, menu.ErrInvalidItem):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, draft.ErrUnknownLine):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Error("request failed", slog.String("route", c.FullPath()), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
