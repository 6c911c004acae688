// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignHandler serves the read side: listings, details and the progress
// endpoints the UI polls.
type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

func queryInt(r *http.Request, keys ...string) int {
	for _, k := range keys {
		if v, err := strconv.Atoi(r.URL.Query().Get(k)); err == nil {
			return v
		}
	}
	return 0
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(),
		queryInt(r, "page"), queryInt(r, "page_size"), r.URL.Query().Get("status"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.GetCampaignDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Tracker.CampaignProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, p)
}

// ListBatchesHandler is the endpoint the UI polls. keep_polling tells it
// whether any batch is still sending.
func (h *CampaignHandler) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batches, err := h.Service.Tracker.ListBatchProgress(r.Context(), id)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":  id,
		"batches":      batches,
		"keep_polling": model.AnySending(batches),
	})
}

func (h *CampaignHandler) GetBatchHandler(w http.ResponseWriter, r *http.Request) {
	n, err := controller.BatchNumberParam(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	p, err := h.Service.Tracker.BatchProgress(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, p)
}

func (h *CampaignHandler) ListRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := controller.BatchNumberParam(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	page, err := h.Service.ListBatchRecipients(r.Context(), chi.URLParam(r, "id"), n,
		queryInt(r, "page"), queryInt(r, "limit", "page_size"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, page)
}
