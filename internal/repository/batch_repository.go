package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type BatchRepositoryInterface interface {
	ListBatches(ctx context.Context, campaignID string) ([]*model.Batch, error)
	GetBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error)

	// ClaimBatch moves a ready batch to sending. Only one caller can win.
	ClaimBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error)
	FinishBatch(ctx context.Context, campaignID string, batchNumber int, out model.BatchOutcome) (*model.Batch, error)
	ResetBatch(ctx context.Context, campaignID string, batchNumber int, force bool) (*model.Batch, error)
}

type BatchRepository struct {
	DB *sql.DB
}

const batchColumns = `campaign_id, batch_number, batch_size, status, emails_sent, failed_emails,
        error_message, started_at, completed_at, created_at, updated_at`

func scanBatch(row rowScanner) (*model.Batch, error) {
	var b model.Batch
	err := row.Scan(&b.CampaignID, &b.BatchNumber, &b.BatchSize, &b.Status, &b.EmailsSent, &b.FailedEmails,
		&b.ErrorMessage, &b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) ListBatches(ctx context.Context, campaignID string) ([]*model.Batch, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE campaign_id=$1 ORDER BY batch_number`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []*model.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *BatchRepository) GetBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error) {
	b, err := scanBatch(r.DB.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE campaign_id=$1 AND batch_number=$2`, campaignID, batchNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewBatchNotFound(campaignID, batchNumber)
	}
	return b, err
}

// transitionGuard explains why a WHERE-guarded batch update touched no row.
func (r *BatchRepository) transitionGuard(ctx context.Context, campaignID string, batchNumber int, to model.BatchStatus) error {
	b, err := r.GetBatch(ctx, campaignID, batchNumber)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState("batch %d of campaign %s is %s and cannot move to %s", batchNumber, campaignID, b.Status, to)
}

func (r *BatchRepository) ClaimBatch(ctx context.Context, campaignID string, batchNumber int) (*model.Batch, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := scanBatch(tx.QueryRowContext(ctx, `
        UPDATE batches
        SET status=$3, started_at=NOW(), completed_at=NULL, error_message='', updated_at=NOW()
        WHERE campaign_id=$1 AND batch_number=$2 AND status=$4
        RETURNING `+batchColumns,
		campaignID, batchNumber, model.BatchSending, model.BatchReady))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionGuard(ctx, campaignID, batchNumber, model.BatchSending)
	}
	if err != nil {
		return nil, err
	}

	// First claimed batch starts the campaign; later claims leave it alone.
	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1 AND status=$3`,
		campaignID, model.CampaignSending, model.CampaignReady); err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

func (r *BatchRepository) FinishBatch(ctx context.Context, campaignID string, batchNumber int, out model.BatchOutcome) (*model.Batch, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := scanBatch(tx.QueryRowContext(ctx, `
        UPDATE batches
        SET status=$3, failed_emails=$4, error_message=$5, completed_at=NOW(), updated_at=NOW()
        WHERE campaign_id=$1 AND batch_number=$2 AND status=$6
        RETURNING `+batchColumns,
		campaignID, batchNumber, out.Status, out.FailedEmails, out.ErrorMessage, model.BatchSending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionGuard(ctx, campaignID, batchNumber, out.Status)
	}
	if err != nil {
		return nil, err
	}

	if err := reconcileCampaignTx(ctx, tx, campaignID); err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

func (r *BatchRepository) ResetBatch(ctx context.Context, campaignID string, batchNumber int, force bool) (*model.Batch, error) {
	from := []string{string(model.BatchFailed)}
	if force {
		from = append(from, string(model.BatchSending))
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := scanBatch(tx.QueryRowContext(ctx, `
        UPDATE batches
        SET status=$3, failed_emails=0, error_message='', started_at=NULL, completed_at=NULL, updated_at=NOW()
        WHERE campaign_id=$1 AND batch_number=$2 AND status = ANY($4)
        RETURNING `+batchColumns,
		campaignID, batchNumber, model.BatchReady, pq.Array(from)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionGuard(ctx, campaignID, batchNumber, model.BatchReady)
	}
	if err != nil {
		return nil, err
	}

	if err := reconcileCampaignTx(ctx, tx, campaignID); err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

// reconcileCampaignTx locks the campaign row, tallies its batches and applies
// whatever status the tally implies.
func reconcileCampaignTx(ctx context.Context, tx *sql.Tx, campaignID string) error {
	var current model.CampaignStatus
	if err := tx.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, campaignID).Scan(&current); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT status FROM batches WHERE campaign_id=$1`, campaignID)
	if err != nil {
		return err
	}
	var tally model.BatchTally
	for rows.Next() {
		var s model.BatchStatus
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return err
		}
		tally.Add(s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	next := tally.Reconcile(current)
	if next == current {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1`, campaignID, next)
	return err
}

var _ BatchRepositoryInterface = (*BatchRepository)(nil)
