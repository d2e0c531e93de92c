package http

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/leverage-keeper/internal/adapters/persistence"
	"github.com/hxuan190/leverage-keeper/internal/common"
	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/http/httputil"
	"github.com/hxuan190/leverage-keeper/internal/keeper"
	"github.com/hxuan190/leverage-keeper/internal/txn"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Keeper is the part of keeper.Keeper the API drives.
type Keeper interface {
	PlanOnly(ctx context.Context, req keeper.RunRequest) (*keeper.Plan, error)
	RunOnce(ctx context.Context, req keeper.RunRequest) (*persistence.RunRecord, error)
	History(limit int) ([]*persistence.RunRecord, error)
	Run(id string) (*persistence.RunRecord, error)
	Strategy() (domain.RebalanceSettings, *domain.DCASettings)
	UpdateStrategy(settings domain.RebalanceSettings, dca *domain.DCASettings) error
}

var _ Keeper = (*keeper.Keeper)(nil)

type rebalanceRequest struct {
	TargetBps        *uint16 `json:"targetBps"`
	DepositBaseUnit  uint64  `json:"depositBaseUnit"`
	WithdrawBaseUnit uint64  `json:"withdrawBaseUnit"`
}

type strategyBody struct {
	Settings domain.RebalanceSettings `json:"settings"`
	DCA      *domain.DCASettings      `json:"dca,omitempty"`
}

// RebalanceHandler plans and triggers runs and manages the strategy.
type RebalanceHandler struct {
	keeper Keeper
}

func NewRebalanceHandler(k Keeper) *RebalanceHandler {
	return &RebalanceHandler{keeper: k}
}

func (h *RebalanceHandler) Root() string {
	return "/rebalance"
}

func (h *RebalanceHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.POST("/plan", h.plan)
	pub.GET("/strategy", h.getStrategy)

	admin.POST("/run", h.run)
	admin.PUT("/strategy", h.putStrategy)
}

func (h *RebalanceHandler) bind(c *gin.Context) (keeper.RunRequest, bool) {
	var body rebalanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			httputil.BadRequest(c, "invalid request body: "+err.Error())
			return keeper.RunRequest{}, false
		}
	}
	return keeper.RunRequest{
		Trigger:          keeper.TriggerAPI,
		TargetBps:        body.TargetBps,
		DepositBaseUnit:  body.DepositBaseUnit,
		WithdrawBaseUnit: body.WithdrawBaseUnit,
	}, true
}

func (h *RebalanceHandler) plan(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	plan, err := h.keeper.PlanOnly(c.Request.Context(), req)
	if err != nil {
		httputil.Fail(c, httpError(err), nil)
		return
	}
	httputil.Success(c, plan)
}

func (h *RebalanceHandler) run(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	record, err := h.keeper.RunOnce(c.Request.Context(), req)
	if err != nil {
		httputil.Fail(c, httpError(err), record)
		return
	}
	httputil.Success(c, record)
}

func (h *RebalanceHandler) getStrategy(c *gin.Context) {
	settings, dca := h.keeper.Strategy()
	httputil.Success(c, strategyBody{Settings: settings, DCA: dca})
}

func (h *RebalanceHandler) putStrategy(c *gin.Context) {
	var body strategyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.keeper.UpdateStrategy(body.Settings, body.DCA); err != nil {
		httputil.Fail(c, httpError(err), nil)
		return
	}
	httputil.Success(c, body)
}

// RunsHandler serves the run history.
type RunsHandler struct {
	keeper Keeper
}

func NewRunsHandler(k Keeper) *RunsHandler {
	return &RunsHandler{keeper: k}
}

func (h *RunsHandler) Root() string {
	return "/runs"
}

func (h *RunsHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.list)
	pub.GET("/:id", h.get)
}

func (h *RunsHandler) list(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		httputil.BadRequest(c, "invalid limit: must be a positive integer")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	runs, err := h.keeper.History(limit)
	if err != nil {
		httputil.Fail(c, httpError(err), nil)
		return
	}
	if runs == nil {
		runs = []*persistence.RunRecord{}
	}
	httputil.Success(c, runs)
}

func (h *RunsHandler) get(c *gin.Context) {
	run, err := h.keeper.Run(c.Param("id"))
	if err != nil {
		httputil.Fail(c, httpError(err), nil)
		return
	}
	httputil.Success(c, run)
}

func httpError(err error) *common.HttpError {
	switch {
	case errors.Is(err, persistence.ErrRunNotFound):
		return common.HTTPErrorNotFound(err.Error())
	case errors.Is(err, keeper.ErrAmountTooLarge),
		errors.Is(err, domain.ErrOverlappingBands),
		errors.Is(err, domain.ErrInvalidSchedule):
		return common.HTTPErrorBadRequest(err.Error())
	case errors.Is(err, domain.ErrPlanningInfeasible),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, txn.ErrTransactionTooLarge),
		errors.Is(err, txn.ErrAtomicityViolation):
		return common.HTTPErrorUnprocessable(err.Error())
	case errors.Is(err, domain.ErrStaleState):
		return common.HTTPErrorResourceConflict(err.Error())
	default:
		return common.HTTPErrorInternalError(err.Error())
	}
}
