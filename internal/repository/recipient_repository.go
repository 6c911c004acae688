package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// RecipientRepositoryInterface defines methods used by the dispatcher and
// the batch recipient listing.
type RecipientRepositoryInterface interface {
	ListRecipients(ctx context.Context, campaignID string, batchNumber, offset, limit int) ([]*model.Recipient, int, error)
	ListUnsent(ctx context.Context, campaignID string, batchNumber int) ([]*model.Recipient, error)
	GetRecipient(ctx context.Context, campaignID, recordID string) (*model.Recipient, error)
	FindRecipientByEmail(ctx context.Context, campaignID, email string) (*model.Recipient, error)

	// RecordDelivery marks the recipient sent and bumps the batch and
	// campaign counters together. It reports false when the recipient was
	// already marked sent, in which case no counter moves.
	RecordDelivery(ctx context.Context, campaignID, recordID string) (bool, error)
	RecordFailure(ctx context.Context, campaignID, recordID, reason string) error
}

// RecipientRepository is the Postgres implementation
type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `campaign_id, record_id, batch_number, position, customer_email, customer_name,
        school_code, school_name, school_page, school_logo, products, email_sent, sent_at, last_error`

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rec model.Recipient
	err := row.Scan(&rec.CampaignID, &rec.RecordID, &rec.BatchNumber, &rec.Position, &rec.CustomerEmail,
		&rec.CustomerName, &rec.SchoolCode, &rec.SchoolName, &rec.SchoolPage, &rec.SchoolLogo,
		&rec.Products, &rec.EmailSent, &rec.SentAt, &rec.LastError)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) queryRecipients(ctx context.Context, query string, args ...any) ([]*model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) ListRecipients(ctx context.Context, campaignID string, batchNumber, offset, limit int) ([]*model.Recipient, int, error) {
	var total int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipients WHERE campaign_id=$1 AND batch_number=$2`,
		campaignID, batchNumber).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	recipients, err := r.queryRecipients(ctx, `
        SELECT `+recipientColumns+` FROM recipients
        WHERE campaign_id=$1 AND batch_number=$2
        ORDER BY position LIMIT $3 OFFSET $4`,
		campaignID, batchNumber, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

func (r *RecipientRepository) ListUnsent(ctx context.Context, campaignID string, batchNumber int) ([]*model.Recipient, error) {
	return r.queryRecipients(ctx, `
        SELECT `+recipientColumns+` FROM recipients
        WHERE campaign_id=$1 AND batch_number=$2 AND email_sent=FALSE
        ORDER BY position`,
		campaignID, batchNumber)
}

func (r *RecipientRepository) GetRecipient(ctx context.Context, campaignID, recordID string) (*model.Recipient, error) {
	rec, err := scanRecipient(r.DB.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE campaign_id=$1 AND record_id=$2`,
		campaignID, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewRecipientNotFound(campaignID, recordID)
	}
	return rec, err
}

func (r *RecipientRepository) FindRecipientByEmail(ctx context.Context, campaignID, email string) (*model.Recipient, error) {
	rec, err := scanRecipient(r.DB.QueryRowContext(ctx, `
        SELECT `+recipientColumns+` FROM recipients
        WHERE campaign_id=$1 AND lower(customer_email)=lower($2)
        ORDER BY position LIMIT 1`,
		campaignID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewRecipientNotFound(campaignID, email)
	}
	return rec, err
}

// RecordDelivery runs the three counter updates in one transaction. Each is
// guarded so a counter can never pass its bound.
func (r *RecipientRepository) RecordDelivery(ctx context.Context, campaignID, recordID string) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var batchNumber int
	err = tx.QueryRowContext(ctx, `
        UPDATE recipients SET email_sent=TRUE, sent_at=NOW(), last_error=''
        WHERE campaign_id=$1 AND record_id=$2 AND email_sent=FALSE
        RETURNING batch_number`,
		campaignID, recordID).Scan(&batchNumber)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetRecipient(ctx, campaignID, recordID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE batches SET emails_sent = emails_sent + 1, updated_at=NOW()
        WHERE campaign_id=$1 AND batch_number=$2 AND emails_sent < batch_size`,
		campaignID, batchNumber); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE campaigns SET emails_sent = emails_sent + 1, updated_at=NOW()
        WHERE id=$1 AND emails_sent < total_emails`,
		campaignID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *RecipientRepository) RecordFailure(ctx context.Context, campaignID, recordID, reason string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET last_error=$3 WHERE campaign_id=$1 AND record_id=$2 AND email_sent=FALSE`,
		campaignID, recordID, reason)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err := r.GetRecipient(ctx, campaignID, recordID)
		return err
	}
	return nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
