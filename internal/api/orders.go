package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-order/internal/store"
)

const defaultOrderLimit = 100

type orderLineRequest struct {
	ID       int64 `json:"id" binding:"required"`
	Quantity int   `json:"quantity"`
}

type orderRequest struct {
	Items []orderLineRequest `json:"items" binding:"required"`
	Note  string             `json:"note"`
}

func (s *Server) listOrders(c *gin.Context) {
	limit := defaultOrderLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	orders, err := s.store.ListOrders(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []store.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

// createOrder records an order entered without voice. It goes through a
// manual draft so totals and validation match the voice path.
func (s *Server) createOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "items are required")
		return
	}
	ctx := c.Request.Context()
	d := s.orders.NewDraft(ctx)
	fail := func(err error) {
		_ = s.orders.Discard(ctx, d.ID)
		s.writeError(c, err)
	}
	for _, line := range req.Items {
		n := line.Quantity
		if n == 0 {
			n = 1
		}
		if _, err := s.orders.AddItem(ctx, d.ID, line.ID, n); err != nil {
			fail(err)
			return
		}
	}
	if req.Note != "" {
		if _, err := s.orders.SetNote(d.ID, req.Note); err != nil {
			fail(err)
			return
		}
	}
	order, err := s.orders.Commit(ctx, d.ID)
	if err != nil {
		fail(err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context(), s.clock())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if st.Popular == nil {
		st.Popular = []store.PopularItem{}
	}
	c.JSON(http.StatusOK, st)
}
