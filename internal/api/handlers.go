package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"harvestreport/internal/app"
	"harvestreport/internal/assemble"
	"harvestreport/internal/export"
	"harvestreport/internal/ledger"
	"harvestreport/internal/logging"
	"harvestreport/internal/prefs"
	"harvestreport/internal/queue"
	"harvestreport/internal/types"
)

// SubmitResponse is returned by both submit routes.
type SubmitResponse struct {
	ReportID           string       `json:"reportId"`
	Status             queue.Status `json:"status"`
	ConfirmationNumber string       `json:"confirmationNumber"`
	Result             queue.Result `json:"result"`
}

type contactRequest struct {
	Field assemble.ContactField `json:"field" binding:"required"`
	Value string                `json:"value"`
}

type confirmationRequest struct {
	Field assemble.ContactField `json:"field" binding:"required"`
	On    bool                  `json:"on"`
}

// =============================================================================
// WORKING DRAFT
// =============================================================================

// GetDraft returns the working draft and its section state.
func (h *Handlers) GetDraft(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"draft":    h.app.Composer.Draft(),
		"sections": h.app.Composer.Sections(),
	})
}

// PutDraft replaces the working draft, keeping its ID.
func (h *Handlers) PutDraft(c *gin.Context) {
	var d types.Draft
	if !bindJSON(c, &d) {
		return
	}
	out, err := h.app.Composer.Replace(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	h.draftResponse(c, out)
}

// ResetDraft discards the working draft and starts a prefilled one.
func (h *Handlers) ResetDraft(c *gin.Context) {
	ctx := c.Request.Context()
	seed, err := h.app.Prefs.Prefill(ctx, types.Draft{})
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("prefill failed: %v", err)
		seed = types.Draft{}
	}
	h.draftResponse(c, h.app.Composer.Reset(ctx, seed))
}

// PutCurrent updates the in-progress fish entry.
func (h *Handlers) PutCurrent(c *gin.Context) {
	var e types.FishEntry
	if !bindJSON(c, &e) {
		return
	}
	h.draftResponse(c, h.app.Composer.SetCurrent(c.Request.Context(), e))
}

// CommitFish saves a fish entry into the draft's list.
func (h *Handlers) CommitFish(c *gin.Context) {
	var e types.FishEntry
	if !bindJSON(c, &e) {
		return
	}
	out, err := h.app.Composer.CommitFish(c.Request.Context(), e)
	if err != nil {
		writeError(c, err)
		return
	}
	h.draftResponse(c, out)
}

// SelectFish loads an entry for editing.
func (h *Handlers) SelectFish(c *gin.Context) {
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	out, err := h.app.Composer.SelectFish(c.Request.Context(), idx)
	if err != nil {
		writeError(c, err)
		return
	}
	h.draftResponse(c, out)
}

// RemoveFish deletes an entry.
func (h *Handlers) RemoveFish(c *gin.Context) {
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	out, err := h.app.Composer.RemoveFish(c.Request.Context(), idx)
	if err != nil {
		writeError(c, err)
		return
	}
	h.draftResponse(c, out)
}

// PutContact sets the email or phone.
func (h *Handlers) PutContact(c *gin.Context) {
	var req contactRequest
	if !bindJSON(c, &req) || !validContactField(c, req.Field) {
		return
	}
	h.draftResponse(c, h.app.Composer.SetContact(c.Request.Context(), req.Field, req.Value))
}

// PutConfirmation toggles a confirmation channel by hand.
func (h *Handlers) PutConfirmation(c *gin.Context) {
	var req confirmationRequest
	if !bindJSON(c, &req) || !validContactField(c, req.Field) {
		return
	}
	h.draftResponse(c, h.app.Composer.SetConfirmation(c.Request.Context(), req.Field, req.On))
}

// DraftSections returns the section state of the working draft.
func (h *Handlers) DraftSections(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.Composer.Sections())
}

// SubmitDraft submits the working draft.
func (h *Handlers) SubmitDraft(c *gin.Context) {
	res, err := h.app.SubmitDraft(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeSubmit(c, res)
}

func (h *Handlers) draftResponse(c *gin.Context, d types.Draft) {
	c.JSON(http.StatusOK, gin.H{
		"draft":    d,
		"sections": h.app.Sections(d),
	})
}

// =============================================================================
// STATELESS
// =============================================================================

// Sections evaluates the gate over the posted draft.
func (h *Handlers) Sections(c *gin.Context) {
	var d types.Draft
	if !bindJSON(c, &d) {
		return
	}
	c.JSON(http.StatusOK, h.app.Sections(d))
}

// Submit submits the posted draft.
func (h *Handlers) Submit(c *gin.Context) {
	var d types.Draft
	if !bindJSON(c, &d) {
		return
	}
	res, err := h.app.Submit(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSubmit(c, res)
}

// =============================================================================
// REPORTS
// =============================================================================

// ListQueue returns the pending reports in queue order.
func (h *Handlers) ListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": h.app.Queue.Queue()})
}

// ListHistory returns the submitted reports.
func (h *Handlers) ListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"submitted": h.app.Queue.History()})
}

// Timeline returns pending and submitted reports merged for display.
func (h *Handlers) Timeline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.app.Queue.Timeline()})
}

// ExportTimeline streams the timeline as an XLSX workbook.
func (h *Handlers) ExportTimeline(c *gin.Context) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="harvest-reports.xlsx"`)
	c.Status(http.StatusOK)
	if err := export.WriteTimeline(c.Writer, h.app.Queue.Timeline()); err != nil {
		logging.Get(logging.CategoryAPI).Error("timeline export failed: %v", err)
	}
}

// Retry retries one pending report.
func (h *Handlers) Retry(c *gin.Context) {
	res, err := h.app.Queue.Retry(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		writeSubmit(c, res)
	case types.IsTransient(err):
		c.JSON(http.StatusAccepted, gin.H{
			"reportId":           res.ReportID(),
			"status":             res.Status,
			"confirmationNumber": res.ConfirmationNumber(),
			"result":             res,
			"error":              err.Error(),
		})
	default:
		writeError(c, err)
	}
}

// Sync runs one sync pass immediately.
func (h *Handlers) Sync(c *gin.Context) {
	res := h.app.Syncer.Pass(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"attempted": res.Attempted,
		"submitted": res.Submitted,
		"failed":    res.Failed,
	})
}

// Badges returns the badge snapshot. ?refresh=1 forces a fetch.
func (h *Handlers) Badges(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	snap, err := h.app.Badges.Read(c.Request.Context(), force)
	if err != nil {
		// The last known snapshot is still worth showing.
		logging.Get(logging.CategoryAPI).Warn("badge refresh failed: %v", err)
	}
	c.JSON(http.StatusOK, snap)
}

// MarkViewed records a feature visit.
func (h *Handlers) MarkViewed(c *gin.Context) {
	if err := h.app.MarkViewed(c.Request.Context(), c.Param("feature")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// PROFILE
// =============================================================================

// GetProfile returns the stored preferences.
func (h *Handlers) GetProfile(c *gin.Context) {
	s, err := h.app.Prefs.Load(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// PutProfile overwrites the stored preferences.
func (h *Handlers) PutProfile(c *gin.Context) {
	var s prefs.Saved
	if !bindJSON(c, &s) {
		return
	}
	if err := h.app.Prefs.Store(c.Request.Context(), s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// =============================================================================
// HELPERS
// =============================================================================

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func indexParam(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return 0, false
	}
	return idx, true
}

func validContactField(c *gin.Context, f assemble.ContactField) bool {
	if f == assemble.ContactEmail || f == assemble.ContactPhone {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "field must be email or phone"})
	return false
}

func writeSubmit(c *gin.Context, res queue.Result) {
	code := http.StatusCreated
	if res.Status == queue.StatusPending {
		code = http.StatusAccepted
	}
	c.JSON(code, SubmitResponse{
		ReportID:           res.ReportID(),
		Status:             res.Status,
		ConfirmationNumber: res.ConfirmationNumber(),
		Result:             res,
	})
}

func writeError(c *gin.Context, err error) {
	if v, ok := types.IsValidation(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": v})
		return
	}

	var assembly *types.AssemblyError
	switch {
	case errors.Is(err, ledger.ErrSpeciesRequired), errors.Is(err, ledger.ErrInvalidCount),
		errors.Is(err, ledger.ErrIndexOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrUnknownReport), errors.Is(err, app.ErrUnknownFeature):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &assembly):
		logging.Get(logging.CategoryAPI).Error("assembly failed after validation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		logging.Get(logging.CategoryAPI).Error("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
