// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/importer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

const maxUploadBytes = 32 << 20

// CampaignController serves the campaign mutation endpoints.
type CampaignController struct {
	CampaignService *service.CampaignService
	Log             zerolog.Logger
}

// BatchNumberParam parses the {n} route parameter.
func BatchNumberParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		return 0, appErrors.NewInvalidInput("batch number must be a positive integer")
	}
	return n, nil
}

type createCampaignRequest struct {
	Name           string               `json:"name" validate:"required,max=200"`
	Description    string               `json:"description" validate:"max=2000"`
	TemplateConfig model.TemplateConfig `json:"template_config"`
	BaseTemplate   string               `json:"base_template"`
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body createCampaignRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body.Name, body.Description, body.TemplateConfig, body.BaseTemplate)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, campaign)
}

type updateCampaignRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var body updateCampaignRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), chi.URLParam(r, "id"), body.Name, body.Description)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type processRequest struct {
	Recipients []*model.Recipient `json:"recipients" validate:"required,min=1"`
	BatchSize  int                `json:"batch_size" validate:"gte=0,lte=50000"`
}

// ProcessCampaign plans the recipient list. It takes either a JSON body or a
// multipart upload with a CSV/XLSX "file" field and optional "batch_size".
func (c *CampaignController) ProcessCampaign(w http.ResponseWriter, r *http.Request) {
	body, err := c.readRecipients(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	res, err := c.CampaignService.ProcessCampaign(r.Context(), chi.URLParam(r, "id"), body.Recipients, body.BatchSize)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) readRecipients(r *http.Request) (*processRequest, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body processRequest
		if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		return &body, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, appErrors.NewInvalidInput("invalid upload: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, appErrors.NewMissingRequiredField("file")
	}
	defer file.Close()

	recipients, err := importer.Parse(header.Filename, file)
	if err != nil {
		return nil, err
	}
	body := &processRequest{Recipients: recipients}
	if v := r.FormValue("batch_size"); v != "" {
		if body.BatchSize, err = strconv.Atoi(v); err != nil {
			return nil, appErrors.NewInvalidInput("batch_size must be an integer")
		}
	}
	if err := validateStruct(body); err != nil {
		return nil, err
	}
	c.Log.Info().Str("file", header.Filename).Int("recipients", len(recipients)).Msg("recipient list uploaded")
	return body, nil
}

func (c *CampaignController) ResetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.CampaignService.ResetCampaign(r.Context(), id); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "status": model.CampaignDraft})
}

type templateConfigRequest struct {
	TemplateConfig model.TemplateConfig `json:"template_config"`
	Config         model.TemplateConfig `json:"config"`
	BaseTemplate   *string              `json:"base_template"`
}

func (c *CampaignController) UpdateTemplateConfig(w http.ResponseWriter, r *http.Request) {
	var body templateConfigRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	cfg := body.TemplateConfig
	if cfg == nil {
		cfg = body.Config
	}

	campaign, err := c.CampaignService.UpdateTemplateConfig(r.Context(), chi.URLParam(r, "id"), cfg, body.BaseTemplate)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

type sendBatchRequest struct {
	BatchNumber int  `json:"batch_number" validate:"gte=0"`
	LegacyNum   int  `json:"batchNumber" validate:"gte=0"`
	Async       bool `json:"async"`
}

// SendBatch runs the batch inline, or queues it when async is set.
func (c *CampaignController) SendBatch(w http.ResponseWriter, r *http.Request) {
	var body sendBatchRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	n := body.BatchNumber
	if n == 0 {
		n = body.LegacyNum
	}
	if n == 0 {
		WriteError(w, c.Log, appErrors.NewMissingRequiredField("batch_number"))
		return
	}
	id := chi.URLParam(r, "id")

	if body.Async {
		b, err := c.CampaignService.EnqueueBatch(r.Context(), id, n)
		if err != nil {
			WriteError(w, c.Log, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"campaign_id":  id,
			"batch_number": b.BatchNumber,
			"batch_size":   b.BatchSize,
			"status":       "queued",
		})
		return
	}

	res, err := c.CampaignService.SendBatch(r.Context(), id, n)
	if err != nil {
		if res != nil {
			WriteErrorWith(w, c.Log, err, map[string]any{"result": res})
			return
		}
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) SendTest(w http.ResponseWriter, r *http.Request) {
	res, err := c.CampaignService.SendTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if res != nil {
			WriteErrorWith(w, c.Log, err, map[string]any{"result": res})
			return
		}
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) ResetBatch(w http.ResponseWriter, r *http.Request) {
	n, err := BatchNumberParam(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	b, err := c.CampaignService.ResetBatch(r.Context(), chi.URLParam(r, "id"), n, force)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

type previewRequest struct {
	RecordID         string  `json:"record_id"`
	Email            string  `json:"email" validate:"omitempty,email"`
	OverrideTemplate *string `json:"override_template"`
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body previewRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), chi.URLParam(r, "id"), body.RecordID, body.Email, body.OverrideTemplate)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id":   preview.CampaignID,
		"record_id":     preview.RecordID,
		"to":            preview.To,
		"subject":       preview.Subject,
		"rendered_html": preview.HTMLBody,
		"used_override": body.OverrideTemplate != nil,
	})
}
