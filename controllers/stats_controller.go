package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/pagestats/middleware"
	"github.com/cppla/pagestats/store"
	"github.com/cppla/pagestats/utils"
)

const (
	msgListed       = "Pages statistics data retrieved successfully"
	msgEmptyList    = "Empty list returned"
	msgRetrieved    = "Page statistics data retrieved successfully"
	msgNotFound     = "Page statistics doesn't exist."
	msgUnauthorized = "authentication required"
	msgUnavailable  = "Statistics are temporarily unavailable."
)

// StatsController serves page statistics scoped to the authenticated owner.
type StatsController struct {
	store  store.Reader
	logger *zap.Logger
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(r store.Reader, logger *zap.Logger) *StatsController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsController{store: r, logger: logger}
}

// ListPages returns statistics for every page owned by the caller.
func (s *StatsController) ListPages(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	pages, err := s.store.QueryByOwner(ctx.Request.Context(), userID)
	if err != nil {
		s.unavailable(ctx, err)
		return
	}
	if len(pages) == 0 {
		utils.Success(ctx, msgEmptyList, pages)
		return
	}
	utils.Success(ctx, msgListed, pages)
}

// GetPage returns statistics for one page when the caller owns it.
func (s *StatsController) GetPage(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	pageID, err := strconv.ParseInt(ctx.Param("page_id"), 10, 64)
	if err != nil || pageID <= 0 {
		utils.NotFound(ctx, msgNotFound)
		return
	}

	page, err := s.store.QueryByOwnerAndPage(ctx.Request.Context(), userID, pageID)
	if errors.Is(err, store.ErrNotFound) {
		utils.NotFound(ctx, msgNotFound)
		return
	}
	if err != nil {
		s.unavailable(ctx, err)
		return
	}
	utils.Success(ctx, msgRetrieved, []interface{}{page})
}

func (s *StatsController) unavailable(ctx *gin.Context, err error) {
	s.logger.Error("statistics store query failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	utils.Error(ctx, http.StatusServiceUnavailable, msgUnavailable)
}
