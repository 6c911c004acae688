// internal/model/batch.go
package model

import "time"

type Batch struct {
	CampaignID   string      `db:"campaign_id" json:"campaign_id"`
	BatchNumber  int         `db:"batch_number" json:"batch_number"`
	BatchSize    int         `db:"batch_size" json:"batch_size"`
	Status       BatchStatus `db:"status" json:"status"`
	EmailsSent   int         `db:"emails_sent" json:"emails_sent"`
	FailedEmails int         `db:"failed_emails" json:"failed_emails"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time  `db:"updated_at" json:"updated_at,omitempty"`
}

// BatchOutcome is what a finished dispatch run reports back to the store.
type BatchOutcome struct {
	Status       BatchStatus
	FailedEmails int
	ErrorMessage string
}

// Plan is the output of the batch planner: the batches and the recipients
// with their batch assignment filled in.
type Plan struct {
	BatchSize  int
	Batches    []*Batch
	Recipients []*Recipient
}

// Total returns the number of recipients in the plan.
func (p *Plan) Total() int {
	return len(p.Recipients)
}
