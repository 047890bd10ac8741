package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/bordereau-engine/internal/application/capacity"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/application/routing"
	wfapp "github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/sla"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"github.com/garyjia/bordereau-engine/pkg/utils"
)

// Assigner is the routing surface used by the API
type Assigner interface {
	RouteToTeam(ctx context.Context, itemID string, actor domainwf.Actor) (*routing.RouteResult, error)
	AssignAgent(ctx context.Context, itemID string, opts routing.AssignOptions) (*routing.AssignResult, error)
	ForceAssign(ctx context.Context, itemID, agentID string, actor domainwf.Actor, reason string) (*routing.AssignResult, error)
	BulkAssign(ctx context.Context, itemIDs []string, actor domainwf.Actor) []wfapp.BulkResult
}

// Deps are the application services behind the API
type Deps struct {
	Engine  wfapp.WorkflowEngine
	Router  Assigner
	Tracker *capacity.Tracker
	Roster  port.RosterRepository
	Alerts  port.AlertRepository
	Clock   clock.Clock
	// Health reports component health; nil means always healthy
	Health  func() (bool, interface{})
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// CreateItemRequest is the body of POST /api/items
type CreateItemRequest struct {
	ID         string     `json:"id"`
	Reference  string     `json:"reference" binding:"required"`
	ClientID   string     `json:"client_id" binding:"required"`
	ContractID string     `json:"contract_id"`
	ReceivedAt *time.Time `json:"received_at"`
	UnitCount  int        `json:"unit_count"`
}

// TransitionRequest is the body of POST /api/items/:id/transitions
type TransitionRequest struct {
	Target          string `json:"target" binding:"required"`
	Reason          string `json:"reason"`
	AgentID         string `json:"agent_id"`
	TeamID          string `json:"team_id"`
	Override        bool   `json:"override"`
	ExpectedVersion *int64 `json:"expected_version"`
}

// AssignRequest is the body of POST /api/items/:id/assign and force-assign
type AssignRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// BulkTransitionRequest is the body of POST /api/bulk/transitions
type BulkTransitionRequest struct {
	ItemIDs []string `json:"item_ids" binding:"required,min=1"`
	Target  string   `json:"target" binding:"required"`
	Reason  string   `json:"reason"`
	AgentID string   `json:"agent_id"`
	TeamID  string   `json:"team_id"`
}

// BulkAssignRequest is the body of POST /api/bulk/assign
type BulkAssignRequest struct {
	ItemIDs []string `json:"item_ids" binding:"required,min=1"`
}

// ItemResponse represents a work item in API responses
type ItemResponse struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference"`
	ClientID        string  `json:"client_id"`
	ContractID      string  `json:"contract_id,omitempty"`
	Status          string  `json:"status"`
	TeamID          string  `json:"team_id,omitempty"`
	AgentID         string  `json:"agent_id,omitempty"`
	SLADays         int     `json:"sla_days"`
	UnitCount       int     `json:"unit_count"`
	Version         int64   `json:"version"`
	ReceivedAt      string  `json:"received_at"`
	StatusChangedAt string  `json:"status_changed_at"`
	ClosedAt        *string `json:"closed_at,omitempty"`
}

// HistoryResponse is the audit trail of an item
type HistoryResponse struct {
	Records    []*entity.TransitionRecord `json:"records"`
	// StageHours is the time spent in each status
	StageHours map[string]float64         `json:"stage_hours"`
}

// SLAResponse is the live SLA classification of an item
type SLAResponse struct {
	sla.Classification
	Deadline string `json:"deadline"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, components := true, interface{}(nil)
	if h.deps.Health != nil {
		healthy, components = h.deps.Health()
	}

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  h.deps.Clock.Now().Format(time.RFC3339),
		Components: components,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, Response{Success: healthy, Data: resp})
}

// CreateItem handles POST /api/items
func (h *Handlers) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if !h.bind(c, &req) {
		return
	}
	if err := validateCreate(req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	create := wfapp.CreateItemRequest{
		ID:         req.ID,
		Reference:  req.Reference,
		ClientID:   req.ClientID,
		ContractID: req.ContractID,
		UnitCount:  req.UnitCount,
		Actor:      actorFrom(c),
	}
	if req.ReceivedAt != nil {
		create.ReceivedAt = req.ReceivedAt.UTC()
	}

	item, err := h.deps.Engine.CreateItem(c.Request.Context(), create)
	if err != nil {
		h.fail(c, "Failed to create item", err)
		return
	}

	h.logger.Info("Item created", "item_id", item.ID, "reference", item.Reference)
	c.JSON(http.StatusCreated, Response{Success: true, Data: toItemResponse(item)})
}

// GetItem handles GET /api/items/:id
func (h *Handlers) GetItem(c *gin.Context) {
	item, err := h.deps.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get item", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toItemResponse(item)})
}

// GetHistory handles GET /api/items/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.deps.Engine.Get(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to get item", err)
		return
	}

	records, err := h.deps.Engine.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get history", err)
		return
	}

	stages := entity.StageDurations(records, h.deps.Clock.Now())
	hours := make(map[string]float64, len(stages))
	for status, d := range stages {
		hours[string(status)] = d.Hours()
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: HistoryResponse{Records: records, StageHours: hours}})
}

// GetSLA handles GET /api/items/:id/sla
func (h *Handlers) GetSLA(c *gin.Context) {
	item, err := h.deps.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get item", err)
		return
	}

	classification := sla.Classify(h.deps.Clock.Now(), item.ReceivedAt, item.SLADurationDays)
	c.JSON(http.StatusOK, Response{Success: true, Data: SLAResponse{
		Classification: classification,
		Deadline:       sla.Deadline(item.ReceivedAt, item.SLADurationDays).Format(time.RFC3339),
	}})
}

// Transition handles POST /api/items/:id/transitions
func (h *Handlers) Transition(c *gin.Context) {
	var req TransitionRequest
	if !h.bind(c, &req) {
		return
	}
	target, err := domainwf.ParseStatus(req.Target)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}
	if err := utils.ValidateReason(req.Reason); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	res, err := h.deps.Engine.Transition(c.Request.Context(), wfapp.TransitionRequest{
		ItemID:          c.Param("id"),
		Target:          target,
		Actor:           actorFrom(c),
		Reason:          req.Reason,
		AgentID:         req.AgentID,
		TeamID:          req.TeamID,
		Override:        req.Override,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, "Transition failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toItemResponse(res.Item)})
}

// Route handles POST /api/items/:id/route
func (h *Handlers) Route(c *gin.Context) {
	res, err := h.deps.Router.RouteToTeam(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.fail(c, "Routing failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// Assign handles POST /api/items/:id/assign
func (h *Handlers) Assign(c *gin.Context) {
	var req AssignRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	res, err := h.deps.Router.AssignAgent(c.Request.Context(), c.Param("id"), routing.AssignOptions{
		Actor:   actorFrom(c),
		AgentID: req.AgentID,
	})
	if err != nil {
		h.fail(c, "Assignment failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// ForceAssign handles POST /api/items/:id/force-assign
func (h *Handlers) ForceAssign(c *gin.Context) {
	var req AssignRequest
	if !h.bind(c, &req) {
		return
	}
	if req.AgentID == "" {
		h.badRequest(c, "agent_id is required")
		return
	}

	res, err := h.deps.Router.ForceAssign(c.Request.Context(), c.Param("id"), req.AgentID, actorFrom(c), req.Reason)
	if err != nil {
		h.fail(c, "Force assignment failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// BulkTransition handles POST /api/bulk/transitions
func (h *Handlers) BulkTransition(c *gin.Context) {
	var req BulkTransitionRequest
	if !h.bind(c, &req) {
		return
	}
	target, err := domainwf.ParseStatus(req.Target)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	actor := actorFrom(c)
	reqs := make([]wfapp.TransitionRequest, 0, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		reqs = append(reqs, wfapp.TransitionRequest{
			ItemID:  id,
			Target:  target,
			Actor:   actor,
			Reason:  req.Reason,
			AgentID: req.AgentID,
			TeamID:  req.TeamID,
		})
	}

	results := h.deps.Engine.BulkTransition(c.Request.Context(), reqs)
	h.logger.Info("Bulk transition", "target", target, "count", len(results), "actor_id", actor.ID)
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// BulkAssign handles POST /api/bulk/assign
func (h *Handlers) BulkAssign(c *gin.Context) {
	var req BulkAssignRequest
	if !h.bind(c, &req) {
		return
	}
	results := h.deps.Router.BulkAssign(c.Request.Context(), req.ItemIDs, actorFrom(c))
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// AgentLoad handles GET /api/agents/:id/load
func (h *Handlers) AgentLoad(c *gin.Context) {
	agent, err := h.deps.Roster.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get agent", err)
		return
	}
	h.load(c, capacity.Owner{Kind: capacity.OwnerAgent, ID: agent.ID, Capacity: agent.Capacity})
}

// TeamLoad handles GET /api/teams/:id/load
func (h *Handlers) TeamLoad(c *gin.Context) {
	team, err := h.deps.Roster.GetTeam(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get team", err)
		return
	}
	h.load(c, capacity.Owner{Kind: capacity.OwnerTeam, ID: team.ID, Capacity: team.MaxLoad})
}

// ListAlerts handles GET /api/alerts?kind=
func (h *Handlers) ListAlerts(c *gin.Context) {
	kinds := entity.AlertKinds
	if k := c.Query("kind"); k != "" {
		kind := entity.AlertKind(strings.ToUpper(k))
		if !kind.IsValid() {
			h.badRequest(c, "unknown alert kind: "+k)
			return
		}
		kinds = []entity.AlertKind{kind}
	}

	alerts := make([]*entity.AlertState, 0)
	for _, kind := range kinds {
		active, err := h.deps.Alerts.ListActive(c.Request.Context(), kind)
		if err != nil {
			h.fail(c, "Failed to list alerts", err)
			return
		}
		alerts = append(alerts, active...)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: alerts})
}

func (h *Handlers) load(c *gin.Context, owner capacity.Owner) {
	load, err := h.deps.Tracker.Snapshot(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, "Failed to compute load", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: load})
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		h.badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps the error taxonomy onto status codes
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "item_id", c.Param("id"), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	h.logger.Info(msg, "item_id", c.Param("id"), "status", status, "error", err.Error())
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor returns the HTTP status of an application error
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrItemClosed):
		return http.StatusLocked
	case errors.Is(err, domainwf.ErrStaleState), errors.Is(err, domainwf.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func validateCreate(req CreateItemRequest) error {
	if req.ID != "" {
		if err := utils.ValidateID("item", req.ID); err != nil {
			return err
		}
	}
	if err := utils.ValidateReference(req.Reference); err != nil {
		return err
	}
	if err := utils.ValidateID("client", req.ClientID); err != nil {
		return err
	}
	return utils.ValidateUnitCount(req.UnitCount)
}

// toItemResponse converts domain entity to API response
func toItemResponse(item *entity.WorkItem) ItemResponse {
	resp := ItemResponse{
		ID:              item.ID,
		Reference:       item.Reference,
		ClientID:        item.ClientID,
		ContractID:      item.ContractID,
		Status:          string(item.Status),
		TeamID:          item.TeamID,
		AgentID:         item.AssignedAgentID,
		SLADays:         item.SLADurationDays,
		UnitCount:       item.UnitCount,
		Version:         item.Version,
		ReceivedAt:      item.ReceivedAt.Format(time.RFC3339),
		StatusChangedAt: item.StatusChangedAt.Format(time.RFC3339),
	}
	if item.ClosedAt != nil {
		closed := item.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closed
	}
	return resp
}
