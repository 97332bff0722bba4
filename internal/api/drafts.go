package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-order/internal/voiceorder"
)

const defaultEventLimit = 100

type recognizeRequest struct {
	Transcript string `json:"transcript"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type addItemRequest struct {
	ItemID   int64 `json:"item_id" binding:"required"`
	Quantity *int  `json:"quantity"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// uploadAudio accepts a recording in the multipart field "audio".
func (s *Server) uploadAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio too large"})
			return
		}
		badRequest(c, "audio is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "could not read audio")
		return
	}
	d, err := s.orders.ProcessAudio(c.Request.Context(), audio, header.Filename)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// recognize opens a draft from a transcript that was produced elsewhere.
func (s *Server) recognize(c *gin.Context) {
	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	d, err := s.orders.OpenDraft(c.Request.Context(), req.Transcript, voiceorder.SourceText)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) newDraft(c *gin.Context) {
	c.JSON(http.StatusCreated, s.orders.NewDraft(c.Request.Context()))
}

func (s *Server) getDraft(c *gin.Context) {
	d, err := s.orders.Draft(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) discardDraft(c *gin.Context) {
	if err := s.orders.Discard(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addDraftItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "item_id is required")
		return
	}
	n := 1
	if req.Quantity != nil {
		n = *req.Quantity
	}
	d, err := s.orders.AddItem(c.Request.Context(), c.Param("id"), req.ItemID, n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) setDraftQuantity(c *gin.Context) {
	itemID, ok := idParam(c, "itemID")
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity is required")
		return
	}
	d, err := s.orders.SetQuantity(c.Param("id"), itemID, *req.Quantity)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) removeDraftItem(c *gin.Context) {
	itemID, ok := idParam(c, "itemID")
	if !ok {
		return
	}
	d, err := s.orders.RemoveLine(c.Param("id"), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) setDraftNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	d, err := s.orders.SetNote(c.Param("id"), req.Note)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) revertDraft(c *gin.Context) {
	d, err := s.orders.Revert(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) commitDraft(c *gin.Context) {
	order, err := s.orders.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

type eventView struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Server) draftEvents(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	events, err := s.orders.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{Type: e.Type, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}
