package service

import (
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const DefaultBatchSize = 2000

// PlanBatches splits recipients, in input order, into batches of batchSize.
// The last batch holds the remainder. Recipients without a record id get
// "<campaignID>_<position>". The input slice is not modified.
func PlanBatches(campaignID string, recipients []*model.Recipient, batchSize int) (*model.Plan, error) {
	if len(recipients) == 0 {
		return nil, appErrors.NewInvalidInput("recipient list is empty")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	plan := &model.Plan{
		BatchSize:  batchSize,
		Batches:    make([]*model.Batch, 0, (len(recipients)+batchSize-1)/batchSize),
		Recipients: make([]*model.Recipient, 0, len(recipients)),
	}
	seen := make(map[string]int, len(recipients))

	for i, in := range recipients {
		if in == nil {
			return nil, appErrors.NewInvalidInput("recipient %d is empty", i+1)
		}
		position := i + 1
		batchNumber := i/batchSize + 1

		rec := *in
		rec.CampaignID = campaignID
		rec.RecordID = strings.TrimSpace(rec.RecordID)
		if rec.RecordID == "" {
			rec.RecordID = fmt.Sprintf("%s_%d", campaignID, position)
		}
		if first, dup := seen[rec.RecordID]; dup {
			return nil, appErrors.NewInvalidInput("record id %q appears at positions %d and %d", rec.RecordID, first, position)
		}
		seen[rec.RecordID] = position

		rec.CustomerEmail = strings.TrimSpace(rec.CustomerEmail)
		rec.Position = position
		rec.BatchNumber = batchNumber
		rec.EmailSent = false
		rec.SentAt = nil
		rec.LastError = ""
		plan.Recipients = append(plan.Recipients, &rec)

		if len(plan.Batches) < batchNumber {
			plan.Batches = append(plan.Batches, &model.Batch{
				CampaignID:  campaignID,
				BatchNumber: batchNumber,
				Status:      model.BatchReady,
			})
		}
		plan.Batches[batchNumber-1].BatchSize++
	}
	return plan, nil
}
