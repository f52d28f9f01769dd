package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
	"github.com/your-org/fd-attendance/pkg/dto"
)

// EventHandler serves the attendance event log and its daily rollup,
// backed by C5's write-through cache and C3's durable store.
type EventHandler struct {
	repo     roster.Repository
	store    *attendance.Store
	resolver *attendance.Resolver
}

func NewEventHandler(repo roster.Repository, store *attendance.Store, resolver *attendance.Resolver) *EventHandler {
	return &EventHandler{repo: repo, store: store, resolver: resolver}
}

func parseLocalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, wib.Location)
	if err != nil {
		return nil
	}
	return &t
}

// List returns a page of attendance events from C3, per spec §4.3's
// ListEvents contract (filter + pagination + order).
func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	order := roster.OrderTsDesc
	if !q.Desc {
		order = roster.OrderTsAsc
	}

	filter := roster.EventFilter{Label: q.Label, StartDate: parseLocalDate(q.StartDate), EndDate: parseLocalDate(q.EndDate)}
	events, total, err := h.repo.ListEvents(c.Request.Context(), orgFrom(c), filter, roster.Page{Number: q.Page, PageSize: q.PageSize}, order)
	if err != nil {
		writeErr(c, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, dto.EventResponse{ID: ev.ID, Label: ev.Label, PersonID: ev.PersonID, Score: ev.Score, Timestamp: wib.ISO(ev.Ts)})
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}

// Patch applies an admin edit to one event, then rebuilds C5's derived
// maps from scratch, per spec §4.5/§9.
func (h *EventHandler) Patch(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req dto.EventPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := attendance.EventPatch{Label: req.Label, PersonID: req.PersonID, Score: req.Score}
	if req.Ts != nil {
		if t, ok := wib.ParseISO(*req.Ts); ok {
			patch.Ts = &t
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ts is not a valid ISO-8601 timestamp"})
			return
		}
	}

	if err := h.store.Edit(c.Request.Context(), id, patch); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *EventHandler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *EventHandler) BulkDelete(c *gin.Context) {
	var req dto.BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed, err := h.repo.BulkDeleteEvents(c.Request.Context(), orgFrom(c), req.IDs)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.store.Invalidate()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// DailyRollup builds the S6-style per-person-per-day rollup for a date
// range, resolving each (date, identity)'s effective schedule via C6.
func (h *EventHandler) DailyRollup(c *gin.Context) {
	org := orgFrom(c)
	ctx := c.Request.Context()

	start := parseLocalDate(c.Query("start_date"))
	end := parseLocalDate(c.Query("end_date"))
	if start == nil || end == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}

	events, _, err := h.repo.ListEvents(ctx, org, roster.EventFilter{StartDate: start, EndDate: end}, roster.Page{Number: 1, PageSize: 100000}, roster.OrderTsAsc)
	if err != nil {
		writeErr(c, err)
		return
	}
	cacheEvents := make([]attendance.Event, 0, len(events))
	for _, ev := range events {
		cacheEvents = append(cacheEvents, attendance.Event{ID: ev.ID, Label: ev.Label, PersonID: ev.PersonID, Score: ev.Score, Ts: ev.Ts})
	}

	weekly, err := h.repo.GetScheduleRules(ctx, org)
	if err != nil {
		writeErr(c, err)
		return
	}
	overrides, err := h.repo.ListScheduleOverrides(ctx, org)
	if err != nil {
		writeErr(c, err)
		return
	}

	rows := attendance.BuildDailyRows(ctx, h.resolver, cacheEvents, overrides, weekly, c.Query("desc") == "true")

	resp := make([]dto.DailyRowResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, dto.DailyRowResponse{
			Label: r.Label, PersonID: r.PersonID, Date: r.Date,
			CheckIn: r.CheckIn, CheckOut: r.CheckOut,
			StatusCode: r.StatusCode, StatusTags: r.StatusTags,
			Events: r.Events, LateMinutes: r.LateMinutes,
			LeftEarlyMinutes: r.LeftEarlyMinutes, WorkMinutes: r.WorkMinutes,
			ScheduleSource: r.Schedule.Source,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rows": resp, "total": len(resp)})
}
