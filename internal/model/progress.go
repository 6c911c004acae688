// internal/model/progress.go
package model

import "time"

type CampaignProgress struct {
	CampaignID       string         `json:"campaign_id"`
	Status           CampaignStatus `json:"status"`
	TotalEmails      int            `json:"total_emails"`
	EmailsSent       int            `json:"emails_sent"`
	BatchCount       int            `json:"batch_count"`
	BatchesCompleted int            `json:"batches_completed"`
	BatchesFailed    int            `json:"batches_failed"`
	BatchesSending   int            `json:"batches_sending"`
	ObservedAt       time.Time      `json:"observed_at"`
}

type BatchProgress struct {
	CampaignID   string      `json:"campaign_id"`
	BatchNumber  int         `json:"batch_number"`
	BatchSize    int         `json:"batch_size"`
	Status       BatchStatus `json:"status"`
	EmailsSent   int         `json:"emails_sent"`
	FailedEmails int         `json:"failed_emails"`
	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

func NewBatchProgress(b *Batch) BatchProgress {
	return BatchProgress{
		CampaignID:   b.CampaignID,
		BatchNumber:  b.BatchNumber,
		BatchSize:    b.BatchSize,
		Status:       b.Status,
		EmailsSent:   b.EmailsSent,
		FailedEmails: b.FailedEmails,
		ErrorMessage: b.ErrorMessage,
		StartedAt:    b.StartedAt,
		CompletedAt:  b.CompletedAt,
	}
}

// AnySending reports whether a poller should keep polling.
func AnySending(batches []BatchProgress) bool {
	for _, b := range batches {
		if b.Status == BatchSending {
			return true
		}
	}
	return false
}
