package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateDetails(ctx context.Context, id, name, description string) (*model.Campaign, error)
	UpdateTemplateConfig(ctx context.Context, id string, cfg model.TemplateConfig, baseTemplate *string) (*model.Campaign, error)
	TransitionStatus(ctx context.Context, id string, to model.CampaignStatus) error

	// Plan lifecycle
	SavePlan(ctx context.Context, id string, plan *model.Plan) error
	ResetPlan(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, description, status, template_config, base_template,
        total_emails, emails_sent, batch_count, batch_size, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.TemplateConfig, &c.BaseTemplate,
		&c.TotalEmails, &c.EmailsSent, &c.BatchCount, &c.BatchSize, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (id, name, description, status, template_config, base_template, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.Name, c.Description, c.Status, c.TemplateConfig, c.BaseTemplate, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// editableGuard explains why a guarded campaign update touched no row.
// editableCondition mirrors model.Campaign.Editable.
const editableCondition = `(status = 'draft' OR (status = 'ready' AND emails_sent = 0))`

func (r *CampaignRepository) editableGuard(ctx context.Context, id, what string) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState("cannot update %s of campaign %s in status %s with %d emails sent", what, id, c.Status, c.EmailsSent)
}

func (r *CampaignRepository) UpdateDetails(ctx context.Context, id, name, description string) (*model.Campaign, error) {
	query := `
        UPDATE campaigns SET name=$2, description=$3, updated_at=NOW()
        WHERE id=$1 AND ` + editableCondition + `
        RETURNING ` + campaignColumns
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, name, description))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.editableGuard(ctx, id, "details")
	}
	return c, err
}

// UpdateTemplateConfig replaces the stored config in the same statement that
// checks the status, so a send cannot start between check and write.
func (r *CampaignRepository) UpdateTemplateConfig(ctx context.Context, id string, cfg model.TemplateConfig, baseTemplate *string) (*model.Campaign, error) {
	query := `
        UPDATE campaigns
        SET template_config=$2, base_template=COALESCE($3, base_template), updated_at=NOW()
        WHERE id=$1 AND ` + editableCondition + `
        RETURNING ` + campaignColumns
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, cfg, baseTemplate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.editableGuard(ctx, id, "template config")
	}
	return c, err
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, to model.CampaignStatus) error {
	sources := model.StatusStrings(model.CampaignSources(to))
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1 AND status = ANY($3)`,
		id, to, pq.Array(sources))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return appErrors.NewInvalidState("campaign %s cannot move from %s to %s", id, c.Status, to)
	}
	return nil
}

// ====================== Plan lifecycle ======================

var recipientCopyColumns = []string{
	"campaign_id", "record_id", "batch_number", "position", "customer_email", "customer_name",
	"school_code", "school_name", "school_page", "school_logo", "products",
}

// SavePlan moves a draft campaign to ready and writes its batches and
// recipients in one transaction.
func (r *CampaignRepository) SavePlan(ctx context.Context, id string, plan *model.Plan) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET status=$2, total_emails=$3, emails_sent=0, batch_count=$4, batch_size=$5, updated_at=NOW()
        WHERE id=$1 AND status=$6`,
		id, model.CampaignReady, plan.Total(), len(plan.Batches), plan.BatchSize, model.CampaignDraft)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return appErrors.NewAlreadyPlanned(id)
	}

	for _, b := range plan.Batches {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO batches (campaign_id, batch_number, batch_size, status, created_at)
            VALUES ($1, $2, $3, $4, NOW())`,
			id, b.BatchNumber, b.BatchSize, model.BatchReady)
		if err != nil {
			return fmt.Errorf("insert batch %d: %w", b.BatchNumber, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("recipients", recipientCopyColumns...))
	if err != nil {
		return err
	}
	for _, rec := range plan.Recipients {
		products, err := rec.Products.Value()
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, id, rec.RecordID, rec.BatchNumber, rec.Position, rec.CustomerEmail,
			rec.CustomerName, rec.SchoolCode, rec.SchoolName, rec.SchoolPage, rec.SchoolLogo,
			string(products.([]byte)))
		if err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient %s: %w", rec.RecordID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	return tx.Commit()
}

// ResetPlan returns an unsent ready campaign to draft and drops its plan.
func (r *CampaignRepository) ResetPlan(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET status=$2, total_emails=0, emails_sent=0, batch_count=0, batch_size=0, updated_at=NOW()
        WHERE id=$1 AND status=$3 AND emails_sent=0`,
		id, model.CampaignDraft, model.CampaignReady)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return appErrors.NewInvalidState("campaign %s in status %s with %d emails sent cannot be reset", id, c.Status, c.EmailsSent)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE campaign_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE campaign_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a campaign and, through ON DELETE CASCADE, its plan.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND status<>$2`, id, model.CampaignSending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return appErrors.NewInvalidState("campaign %s is sending and cannot be deleted", id)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
