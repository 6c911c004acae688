package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type batchKey struct {
	campaignID  string
	batchNumber int
}

// MemoryStore implements every repository interface over maps guarded by one
// mutex. It applies the same transition guards as the Postgres repositories
// and hands out copies so callers never share records with the store.
type MemoryStore struct {
	mu         sync.Mutex
	campaigns  map[string]*model.Campaign
	batches    map[batchKey]*model.Batch
	recipients map[string][]*model.Recipient
	testUsers  map[string]*model.TestUser
	schools    map[string]*model.School
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:  make(map[string]*model.Campaign),
		batches:    make(map[batchKey]*model.Batch),
		recipients: make(map[string][]*model.Recipient),
		testUsers:  make(map[string]*model.TestUser),
		schools:    make(map[string]*model.School),
		now:        time.Now,
	}
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	out := *c
	out.TemplateConfig = c.TemplateConfig.Clone()
	return &out
}

func copyBatch(b *model.Batch) *model.Batch {
	out := *b
	return &out
}

func copyRecipient(r *model.Recipient) *model.Recipient {
	out := *r
	out.Products = append(model.Products(nil), r.Products...)
	return &out
}

func (m *MemoryStore) timestamp() *time.Time {
	t := m.now()
	return &t
}

// ====================== Campaigns ======================

func (m *MemoryStore) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.campaigns[c.ID]; exists {
		return appErrors.NewInvalidInput("campaign %s already exists", c.ID)
	}
	c.CreatedAt = m.now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.TemplateConfig == nil {
		c.TemplateConfig = model.TemplateConfig{}
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *MemoryStore) getCampaign(id string) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return nil, err
	}
	return copyCampaign(c), nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	page := []*model.Campaign{}
	for i := offset; i < total && i < offset+limit; i++ {
		page = append(page, copyCampaign(all[i]))
	}
	return page, total, nil
}

func (m *MemoryStore) UpdateDetails(ctx context.Context, id, name, description string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, appErrors.NewInvalidState("cannot update details of campaign %s in status %s with %d emails sent", id, c.Status, c.EmailsSent)
	}
	c.Name = name
	c.Description = description
	c.UpdatedAt = m.timestamp()
	return copyCampaign(c), nil
}

func (m *MemoryStore) UpdateTemplateConfig(ctx context.Context, id string, cfg model.TemplateConfig, baseTemplate *string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, appErrors.NewInvalidState("cannot update template config of campaign %s in status %s with %d emails sent", id, c.Status, c.EmailsSent)
	}
	c.TemplateConfig = cfg.Clone()
	if baseTemplate != nil {
		c.BaseTemplate = *baseTemplate
	}
	c.UpdatedAt = m.timestamp()
	return copyCampaign(c), nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id string, to model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransitionTo(to) {
		return appErrors.NewInvalidState("campaign %s cannot move from %s to %s", id, c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = m.timestamp()
	return nil
}

func (m *MemoryStore) SavePlan(ctx context.Context, id string, plan *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignDraft {
		return appErrors.NewAlreadyPlanned(id)
	}

	now := m.now()
	for _, b := range plan.Batches {
		nb := copyBatch(b)
		nb.CampaignID = id
		nb.Status = model.BatchReady
		nb.CreatedAt = now
		m.batches[batchKey{id, b.BatchNumber}] = nb
	}
	recs := make([]*model.Recipient, 0, len(plan.Recipients))
	for _, r := range plan.Recipients {
		nr := copyRecipient(r)
		nr.CampaignID = id
		recs = append(recs, nr)
	}
	m.recipients[id] = recs

	c.Status = model.CampaignReady
	c.TotalEmails = plan.Total()
	c.EmailsSent = 0
	c.BatchCount = len(plan.Batches)
	c.BatchSize = plan.BatchSize
	c.UpdatedAt = &now
	return nil
}

func (m *MemoryStore) dropPlan(id string) {
	for k := range m.batches {
		if k.campaignID == id {
			delete(m.batches, k)
		}
	}
	delete(m.recipients, id)
}

func (m *MemoryStore) ResetPlan(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignReady || c.EmailsSent > 0 {
		return appErrors.NewInvalidState("campaign %s in status %s with %d emails sent cannot be reset", id, c.Status, c.EmailsSent)
	}
	m.dropPlan(id)
	c.Status = model.CampaignDraft
	c.TotalEmails, c.EmailsSent, c.BatchCount, c.BatchSize = 0, 0, 0, 0
	c.UpdatedAt = m.timestamp()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.getCampaign(id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignSending {
		return appErrors.NewInvalidState("campaign %s is sending and cannot be deleted", id)
	}
	m.dropPlan(id)
	delete(m.campaigns, id)
	return nil
}

// ====================== Batches ======================

func (m *MemoryStore) ListBatches(ctx context.Context, campaignID string) ([]*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches := []*model.Batch{}
	for k, b := range m.batches {
		if k.campaignID == campaignID {
			batches = append(batches, copyBatch(b))
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].BatchNumber < batches[j].BatchNumber })
	return batches, nil
}

func (m *MemoryStore) getBatch(campaignID string, n int) (*model.Batch, error) {
	b, ok := m.batches[batchKey{campaignID, n}]
	if !ok {
		return nil, appErrors.NewBatchNotFound(campaignID, n)
	}
	return b, nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.getBatch(campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	return copyBatch(b), nil
}

func (m *MemoryStore) ClaimBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.getBatch(campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchReady {
		return nil, appErrors.NewInvalidState("batch %d of campaign %s is %s and cannot move to %s", batchNumber, campaignID, b.Status, model.BatchSending)
	}
	b.Status = model.BatchSending
	b.StartedAt = m.timestamp()
	b.CompletedAt = nil
	b.ErrorMessage = ""
	b.UpdatedAt = b.StartedAt

	if c, ok := m.campaigns[campaignID]; ok && c.Status == model.CampaignReady {
		c.Status = model.CampaignSending
		c.UpdatedAt = b.StartedAt
	}
	return copyBatch(b), nil
}

func (m *MemoryStore) reconcile(campaignID string) {
	c, ok := m.campaigns[campaignID]
	if !ok {
		return
	}
	var tally model.BatchTally
	for k, b := range m.batches {
		if k.campaignID == campaignID {
			tally.Add(b.Status)
		}
	}
	if next := tally.Reconcile(c.Status); next != c.Status {
		c.Status = next
		c.UpdatedAt = m.timestamp()
	}
}

func (m *MemoryStore) FinishBatch(ctx context.Context, campaignID string, batchNumber int, out model.BatchOutcome) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.getBatch(campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchSending || !b.Status.CanTransitionTo(out.Status) || out.Status == model.BatchReady {
		return nil, appErrors.NewInvalidState("batch %d of campaign %s is %s and cannot move to %s", batchNumber, campaignID, b.Status, out.Status)
	}
	b.Status = out.Status
	b.FailedEmails = out.FailedEmails
	b.ErrorMessage = out.ErrorMessage
	b.CompletedAt = m.timestamp()
	b.UpdatedAt = b.CompletedAt

	m.reconcile(campaignID)
	return copyBatch(b), nil
}

func (m *MemoryStore) ResetBatch(ctx context.Context, campaignID string, batchNumber int, force bool) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.getBatch(campaignID, batchNumber)
	if err != nil {
		return nil, err
	}
	allowed := b.Status == model.BatchFailed || (force && b.Status == model.BatchSending)
	if !allowed {
		return nil, appErrors.NewInvalidState("batch %d of campaign %s is %s and cannot move to %s", batchNumber, campaignID, b.Status, model.BatchReady)
	}
	b.Status = model.BatchReady
	b.FailedEmails = 0
	b.ErrorMessage = ""
	b.StartedAt, b.CompletedAt = nil, nil
	b.UpdatedAt = m.timestamp()

	m.reconcile(campaignID)
	return copyBatch(b), nil
}

// ====================== Recipients ======================

func (m *MemoryStore) ListRecipients(ctx context.Context, campaignID string, batchNumber, offset, limit int) ([]*model.Recipient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inBatch []*model.Recipient
	for _, r := range m.recipients[campaignID] {
		if r.BatchNumber == batchNumber {
			inBatch = append(inBatch, r)
		}
	}
	page := []*model.Recipient{}
	for i := offset; i < len(inBatch) && i < offset+limit; i++ {
		page = append(page, copyRecipient(inBatch[i]))
	}
	return page, len(inBatch), nil
}

func (m *MemoryStore) ListUnsent(ctx context.Context, campaignID string, batchNumber int) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*model.Recipient{}
	for _, r := range m.recipients[campaignID] {
		if r.BatchNumber == batchNumber && !r.EmailSent {
			out = append(out, copyRecipient(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) findRecipient(campaignID, recordID string) (*model.Recipient, error) {
	for _, r := range m.recipients[campaignID] {
		if r.RecordID == recordID {
			return r, nil
		}
	}
	return nil, appErrors.NewRecipientNotFound(campaignID, recordID)
}

func (m *MemoryStore) GetRecipient(ctx context.Context, campaignID, recordID string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findRecipient(campaignID, recordID)
	if err != nil {
		return nil, err
	}
	return copyRecipient(r), nil
}

func (m *MemoryStore) FindRecipientByEmail(ctx context.Context, campaignID, email string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.recipients[campaignID] {
		if strings.EqualFold(r.CustomerEmail, email) {
			return copyRecipient(r), nil
		}
	}
	return nil, appErrors.NewRecipientNotFound(campaignID, email)
}

func (m *MemoryStore) RecordDelivery(ctx context.Context, campaignID, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findRecipient(campaignID, recordID)
	if err != nil {
		return false, err
	}
	if r.EmailSent {
		return false, nil
	}
	r.EmailSent = true
	r.SentAt = m.timestamp()
	r.LastError = ""

	if b, ok := m.batches[batchKey{campaignID, r.BatchNumber}]; ok && b.EmailsSent < b.BatchSize {
		b.EmailsSent++
	}
	if c, ok := m.campaigns[campaignID]; ok && c.EmailsSent < c.TotalEmails {
		c.EmailsSent++
	}
	return true, nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, campaignID, recordID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findRecipient(campaignID, recordID)
	if err != nil {
		return err
	}
	if !r.EmailSent {
		r.LastError = reason
	}
	return nil
}

// ====================== Test users ======================

func (m *MemoryStore) ListTestUsers(ctx context.Context, activeOnly bool) ([]*model.TestUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := []*model.TestUser{}
	for _, u := range m.testUsers {
		if activeOnly && !u.Active {
			continue
		}
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (m *MemoryStore) UpsertTestUser(ctx context.Context, u *model.TestUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if existing, ok := m.testUsers[u.Email]; ok {
		u.CreatedAt = existing.CreatedAt
	} else {
		u.CreatedAt = m.now()
	}
	cp := *u
	m.testUsers[u.Email] = &cp
	return nil
}

func (m *MemoryStore) SetTestUserActive(ctx context.Context, email string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.testUsers[strings.ToLower(email)]
	if !ok {
		return appErrors.NewTestUserNotFound(email)
	}
	u.Active = active
	return nil
}

func (m *MemoryStore) DeleteTestUser(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := m.testUsers[key]; !ok {
		return appErrors.NewTestUserNotFound(email)
	}
	delete(m.testUsers, key)
	return nil
}

// ====================== Schools ======================

func (m *MemoryStore) ListSchools(ctx context.Context) ([]*model.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	schools := []*model.School{}
	for _, s := range m.schools {
		cp := *s
		schools = append(schools, &cp)
	}
	sort.Slice(schools, func(i, j int) bool { return schools[i].SchoolCode < schools[j].SchoolCode })
	return schools, nil
}

func (m *MemoryStore) GetSchoolsByCode(ctx context.Context, codes []string) (map[string]*model.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string]*model.School{}
	for _, code := range codes {
		if s, ok := m.schools[code]; ok {
			cp := *s
			out[code] = &cp
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertSchool(ctx context.Context, s *model.School) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.schools[s.SchoolCode] = &cp
	return nil
}

var (
	_ CampaignRepositoryInterface  = (*MemoryStore)(nil)
	_ BatchRepositoryInterface     = (*MemoryStore)(nil)
	_ RecipientRepositoryInterface = (*MemoryStore)(nil)
	_ TestUserRepositoryInterface  = (*MemoryStore)(nil)
	_ SchoolRepositoryInterface    = (*MemoryStore)(nil)
)
