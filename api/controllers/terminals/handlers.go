package terminals

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/skewerpos-backend/api/middleware"
	"github.com/angelmondragon/skewerpos-backend/api/responses"
	"github.com/angelmondragon/skewerpos-backend/api/validators"
	"github.com/angelmondragon/skewerpos-backend/internal/workflow"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

// Registry hands out the workflow controller for a terminal.
type Registry interface {
	Get(terminalID string) (*workflow.Controller, error)
}

// Handlers serves the terminal workflow endpoints.
type Handlers struct {
	registry       Registry
	logg           *logger.Logger
	maxUploadBytes int64
}

// NewHandlers wires the terminal endpoints to the registry.
func NewHandlers(registry Registry, logg *logger.Logger, maxUploadBytes int64) *Handlers {
	return &Handlers{registry: registry, logg: logg, maxUploadBytes: maxUploadBytes}
}

func (h *Handlers) controller(w http.ResponseWriter, r *http.Request) (*workflow.Controller, bool) {
	if h.registry == nil {
		responses.WriteError(r.Context(), h.logg, w, pkgerrors.New(pkgerrors.CodeInternal, "workflow registry unavailable"))
		return nil, false
	}
	terminalID := middleware.TerminalIDFromContext(r.Context())
	if terminalID == "" {
		terminalID = strings.TrimSpace(chi.URLParam(r, middleware.TerminalIDParam))
	}
	c, err := h.registry.Get(terminalID)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return nil, false
	}
	return c, true
}

func (h *Handlers) writeSnapshot(w http.ResponseWriter, r *http.Request, snap workflow.Snapshot, err error) {
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	responses.WriteSuccess(w, snap)
}

// Snapshot returns the terminal state.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	responses.WriteSuccess(w, c.Snapshot())
}

// AddItem adds a product or a color-priced skewer to the cart.
func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	color := validators.SanitizeString(req.Color, 64)
	switch {
	case req.ProductID != nil && color != "":
		responses.WriteError(r.Context(), h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "send either product_id or color, not both"))
	case req.ProductID != nil:
		snap, err := c.AddProduct(r.Context(), *req.ProductID, req.Quantity)
		h.writeSnapshot(w, r, snap, err)
	case color != "":
		snap, err := c.AddColor(r.Context(), color, req.Quantity)
		h.writeSnapshot(w, r, snap, err)
	default:
		responses.WriteError(r.Context(), h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product_id or color is required"))
	}
}

// UpdateItem overwrites the quantity of a cart line.
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	snap, err := c.SetQuantity(r.Context(), chi.URLParam(r, "itemId"), req.Quantity)
	h.writeSnapshot(w, r, snap, err)
}

// RemoveItem drops a cart line.
func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	snap, err := c.RemoveItem(chi.URLParam(r, "itemId"))
	h.writeSnapshot(w, r, snap, err)
}

// ClearCart empties the cart.
func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	snap, err := c.ClearCart()
	h.writeSnapshot(w, r, snap, err)
}

// Transition moves the terminal to another workflow step.
func (h *Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req stepRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	step, err := enums.ParseWorkflowStep(req.Step)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid step"))
		return
	}
	snap, err := c.Transition(r.Context(), step, req.DiscountPercent)
	h.writeSnapshot(w, r, snap, err)
}

// Detect runs skewer detection on an uploaded tray photo.
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	photo, err := readUpload(w, r, "image", h.maxUploadBytes)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	snap, err := c.Detect(r.Context(), photo)
	h.writeSnapshot(w, r, snap, err)
}

// SetDetectionCounts replaces the detected counts with staff corrections.
func (h *Handlers) SetDetectionCounts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req detectionCountsRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	snap, err := c.SetDetectionCounts(req.Counts)
	h.writeSnapshot(w, r, snap, err)
}

// ApplyDetection merges the detected counts into the cart.
func (h *Handlers) ApplyDetection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	snap, err := c.ApplyDetection(r.Context())
	h.writeSnapshot(w, r, snap, err)
}

// SetSplit sets the number of persons sharing the bill. One turns split off.
func (h *Handlers) SetSplit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req splitRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	snap, err := c.SetPersons(r.Context(), req.Persons)
	h.writeSnapshot(w, r, snap, err)
}

// UploadSlip stores a transfer slip for the next QR payment.
func (h *Handlers) UploadSlip(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	file, err := readUpload(w, r, "slip", h.maxUploadBytes)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	slip, err := c.UploadSlip(r.Context(), file.Data)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
		"slip":     slip,
		"snapshot": c.Snapshot(),
	})
}

// RemoveSlip drops a buffered slip.
func (h *Handlers) RemoveSlip(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	slipID, err := validators.ParseUUIDParam(r, "slipId")
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	snap, err := c.RemoveSlip(r.Context(), slipID)
	h.writeSnapshot(w, r, snap, err)
}

// PayCash records a cash payment.
func (h *Handlers) PayCash(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req cashPaymentRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	result, err := c.PayCash(r.Context(), req.Received, req.Person)
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, result)
}

// PayQR records a transfer backed by the uploaded slips.
func (h *Handlers) PayQR(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	result, err := c.PayQR(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), h.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, result)
}
