// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

const (
	DefaultRecipientPageSize = 50
	MaxPageSize              = 100
)

type CampaignService struct {
	Store      *repository.Store
	Dispatcher *Dispatcher
	Tracker    *Tracker
	Renderer   *Renderer
	Queue      queue.Queue
	QueueTopic string
	BatchSize  int
	Log        zerolog.Logger
}

// CampaignDetails is a campaign with its live progress.
type CampaignDetails struct {
	*model.Campaign
	Progress *model.CampaignProgress `json:"progress"`
}

type BatchSummary struct {
	BatchNumber int `json:"batch_number"`
	BatchSize   int `json:"batch_size"`
}

type ProcessResult struct {
	CampaignID  string         `json:"campaign_id"`
	TotalEmails int            `json:"total_emails"`
	BatchCount  int            `json:"batch_count"`
	BatchSize   int            `json:"batch_size"`
	Batches     []BatchSummary `json:"batches"`
}

type Preview struct {
	CampaignID string `json:"campaign_id"`
	RecordID   string `json:"record_id"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	HTMLBody   string `json:"html_body"`
}

type RecipientPage struct {
	Recipients []*model.Recipient `json:"recipients"`
	Pagination map[string]int     `json:"pagination"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, name, description string, cfg model.TemplateConfig, baseTemplate string) (*model.Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.NewMissingRequiredField("name")
	}
	c := &model.Campaign{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    strings.TrimSpace(description),
		Status:         model.CampaignDraft,
		TemplateConfig: DefaultTemplateConfig.Merge(NormalizeTemplateConfig(cfg)),
		BaseTemplate:   baseTemplate,
		BatchSize:      s.batchSize(0),
	}
	if err := s.Store.Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", c.ID).Str("name", c.Name).Msg("campaign created")
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
	if status != "" {
		if _, err := model.ParseCampaignStatus(status); err != nil {
			return nil, nil, appErrors.NewInvalidInput("%v", err)
		}
	}
	page, pageSize, offset := paginate(page, pageSize, 20)

	campaigns, total, err := s.Store.Campaigns.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}
	return campaigns, pagination(page, pageSize, total), nil
}

func paginate(page, pageSize, fallback int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = fallback
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.Store.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.Tracker.CampaignProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Progress: p}, nil
}

func (s *CampaignService) UpdateCampaign(ctx context.Context, id, name, description string) (*model.Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.NewMissingRequiredField("name")
	}
	c, err := s.Store.Campaigns.UpdateDetails(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return nil, err
	}
	s.Tracker.Invalidate(ctx, id)
	return c, nil
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.Store.Campaigns.Delete(ctx, id); err != nil {
		return err
	}
	s.Tracker.Invalidate(ctx, id)
	s.Log.Info().Str("campaign_id", id).Msg("campaign deleted")
	return nil
}

// ProcessCampaign plans a draft campaign's recipient list into batches and
// moves it to ready. batchSize <= 0 uses the configured size.
func (s *CampaignService) ProcessCampaign(ctx context.Context, id string, recipients []*model.Recipient, batchSize int) (*ProcessResult, error) {
	c, err := s.Store.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, appErrors.NewAlreadyPlanned(id)
	}

	if err := enrichFromSchools(ctx, s.Store.Schools, recipients); err != nil {
		s.Log.Warn().Err(err).Str("campaign_id", id).Msg("school lookup failed; planning without school data")
	}
	plan, err := PlanBatches(id, recipients, s.batchSize(batchSize))
	if err != nil {
		return nil, err
	}
	if err := s.Store.Campaigns.SavePlan(ctx, id, plan); err != nil {
		return nil, err
	}
	s.Tracker.Invalidate(ctx, id)

	res := &ProcessResult{
		CampaignID:  id,
		TotalEmails: plan.Total(),
		BatchCount:  len(plan.Batches),
		BatchSize:   plan.BatchSize,
		Batches:     make([]BatchSummary, len(plan.Batches)),
	}
	for i, b := range plan.Batches {
		res.Batches[i] = BatchSummary{BatchNumber: b.BatchNumber, BatchSize: b.BatchSize}
	}
	s.Log.Info().
		Str("campaign_id", id).
		Int("total_emails", res.TotalEmails).
		Int("batch_count", res.BatchCount).
		Msg("campaign planned")
	return res, nil
}

func (s *CampaignService) batchSize(requested int) int {
	switch {
	case requested > 0:
		return requested
	case s.BatchSize > 0:
		return s.BatchSize
	}
	return DefaultBatchSize
}

// ResetCampaign discards an unsent plan so the list can be re-uploaded.
func (s *CampaignService) ResetCampaign(ctx context.Context, id string) error {
	if err := s.Store.Campaigns.ResetPlan(ctx, id); err != nil {
		return err
	}
	s.Tracker.Invalidate(ctx, id)
	return nil
}

// UpdateTemplateConfig replaces the campaign's template config. Slots the
// editor leaves out fall back to the defaults. baseTemplate, when non-nil,
// replaces the stored HTML.
func (s *CampaignService) UpdateTemplateConfig(ctx context.Context, id string, cfg model.TemplateConfig, baseTemplate *string) (*model.Campaign, error) {
	if len(cfg) == 0 && baseTemplate == nil {
		return nil, appErrors.NewInvalidInput("template_config or base_template is required")
	}
	var merged model.TemplateConfig
	if len(cfg) == 0 {
		c, err := s.Store.Campaigns.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		merged = c.TemplateConfig
	} else {
		merged = DefaultTemplateConfig.Merge(NormalizeTemplateConfig(cfg))
	}
	c, err := s.Store.Campaigns.UpdateTemplateConfig(ctx, id, merged, baseTemplate)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", id).Int("slots", len(merged)).Msg("template config updated")
	return c, nil
}

func (s *CampaignService) SendBatch(ctx context.Context, id string, batchNumber int) (*BatchResult, error) {
	if batchNumber < 1 {
		return nil, appErrors.NewInvalidInput("batch_number must be >= 1")
	}
	return s.Dispatcher.SendBatch(ctx, id, batchNumber)
}

// EnqueueBatch hands the batch to the queue. The claim still happens in the
// worker, so a stale job for an already running batch is rejected there.
func (s *CampaignService) EnqueueBatch(ctx context.Context, id string, batchNumber int) (*model.Batch, error) {
	if batchNumber < 1 {
		return nil, appErrors.NewInvalidInput("batch_number must be >= 1")
	}
	b, err := s.Store.Batches.GetBatch(ctx, id, batchNumber)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchReady {
		return nil, appErrors.NewInvalidState("batch %d is %s, only ready batches can be sent", batchNumber, b.Status)
	}
	if s.Queue == nil {
		return nil, appErrors.NewInvalidState("no job queue configured")
	}
	if err := s.Queue.Publish(s.QueueTopic, queue.BatchJob{CampaignID: id, BatchNumber: batchNumber}); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign_id", id).Int("batch_number", batchNumber).Msg("batch queued")
	return b, nil
}

func (s *CampaignService) SendTest(ctx context.Context, id string) (*TestSendResult, error) {
	return s.Dispatcher.SendTest(ctx, id)
}

// ResetBatch returns a failed batch to ready. force also recovers a batch
// stuck in sending after a crashed worker.
func (s *CampaignService) ResetBatch(ctx context.Context, id string, batchNumber int, force bool) (*model.Batch, error) {
	b, err := s.Store.Batches.ResetBatch(ctx, id, batchNumber, force)
	if err != nil {
		return nil, err
	}
	s.Tracker.Invalidate(ctx, id)
	s.Log.Info().Str("campaign_id", id).Int("batch_number", batchNumber).Bool("force", force).Msg("batch reset")
	return b, nil
}

func (s *CampaignService) ListBatchRecipients(ctx context.Context, id string, batchNumber, page, pageSize int) (*RecipientPage, error) {
	if _, err := s.Store.Batches.GetBatch(ctx, id, batchNumber); err != nil {
		return nil, err
	}
	page, pageSize, offset := paginate(page, pageSize, DefaultRecipientPageSize)
	recs, total, err := s.Store.Recipients.ListRecipients(ctx, id, batchNumber, offset, pageSize)
	if err != nil {
		return nil, err
	}
	return &RecipientPage{Recipients: recs, Pagination: pagination(page, pageSize, total)}, nil
}

// RenderPreview renders the campaign for one recipient, found by record id
// or email. An email that is not on the list but belongs to a test user
// previews that test user. overrideTemplate replaces the stored HTML for
// this render only.
func (s *CampaignService) RenderPreview(ctx context.Context, id, recordID, email string, overrideTemplate *string) (*Preview, error) {
	c, err := s.Store.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.previewRecipient(ctx, id, strings.TrimSpace(recordID), strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	tmpl := c.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		tmpl = *overrideTemplate
	}
	out, err := s.Renderer.Render(tmpl, c.TemplateConfig, rec)
	if err != nil {
		return nil, err
	}
	return &Preview{
		CampaignID: id,
		RecordID:   rec.RecordID,
		To:         out.To,
		Subject:    out.Subject,
		HTMLBody:   out.HTMLBody,
	}, nil
}

func (s *CampaignService) previewRecipient(ctx context.Context, id, recordID, email string) (*model.Recipient, error) {
	switch {
	case recordID != "":
		return s.Store.Recipients.GetRecipient(ctx, id, recordID)
	case email == "":
		return nil, appErrors.NewInvalidInput("record_id or email is required")
	}

	rec, err := s.Store.Recipients.FindRecipientByEmail(ctx, id, email)
	if err == nil || !appErrors.IsNotFound(err) {
		return rec, err
	}
	users, uerr := s.Store.TestUsers.ListTestUsers(ctx, false)
	if uerr != nil {
		return nil, uerr
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			rec := u.AsRecipient(id, 1)
			if err := enrichFromSchools(ctx, s.Store.Schools, []*model.Recipient{rec}); err != nil {
				s.Log.Warn().Err(err).Msg("school lookup failed for preview")
			}
			return rec, nil
		}
	}
	return nil, err
}

// enrichFromSchools fills blank school fields from the school directory.
// Values already on the recipient win.
func enrichFromSchools(ctx context.Context, schools repository.SchoolRepositoryInterface, recipients []*model.Recipient) error {
	if schools == nil {
		return nil
	}
	seen := map[string]bool{}
	var codes []string
	for _, r := range recipients {
		if r == nil || r.SchoolCode == "" || seen[r.SchoolCode] {
			continue
		}
		seen[r.SchoolCode] = true
		codes = append(codes, r.SchoolCode)
	}
	if len(codes) == 0 {
		return nil
	}

	byCode, err := schools.GetSchoolsByCode(ctx, codes)
	if err != nil {
		return err
	}
	for _, r := range recipients {
		if r == nil {
			continue
		}
		sc, ok := byCode[r.SchoolCode]
		if !ok {
			continue
		}
		if r.SchoolName == "" {
			r.SchoolName = sc.SchoolName
		}
		if r.SchoolPage == "" {
			r.SchoolPage = sc.SchoolPage
		}
		if r.SchoolLogo == "" {
			r.SchoolLogo = sc.SchoolLogo
		}
	}
	return nil
}
