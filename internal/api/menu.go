package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-order/internal/archive"
	"github.com/loqalabs/loqa-order/internal/menu"
)

type itemRequest struct {
	Name        string   `json:"name" binding:"required"`
	Price       *float64 `json:"price" binding:"required"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	Category    string   `json:"category"`
}

func (r itemRequest) item(id int64) menu.Item {
	return menu.Item{
		ID:          id,
		Name:        r.Name,
		Price:       *r.Price,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		Category:    r.Category,
	}
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

func (s *Server) listItems(c *gin.Context) {
	items, err := s.store.ListItems(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if items == nil {
		items = []menu.Item{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) getItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	item, err := s.store.GetItem(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) createItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and price are required")
		return
	}
	item, err := s.store.CreateItem(c.Request.Context(), req.item(0))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) updateItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and price are required")
		return
	}
	item, err := s.store.UpdateItem(c.Request.Context(), req.item(id))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) deleteItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteItem(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadImage archives a picture for a menu item and stores its location.
func (s *Server) uploadImage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		badRequest(c, "image is required")
		return
	}
	defer file.Close()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExts[ext] {
		badRequest(c, "unsupported image type")
		return
	}

	contentType := header.Header.Get("Content-Type")
	loc, err := s.archive.Put(ctx, archive.ImageKey(id, s.clock(), ext), file, contentType)
	if err != nil {
		s.writeError(c, err)
		return
	}
	item.ImageURL = loc
	if item, err = s.store.UpdateItem(ctx, item); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
