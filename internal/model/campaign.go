// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TemplateConfig maps named template slots (MAIN_TITLE, CTA_TEXT, ...) to values.
type TemplateConfig map[string]string

func (c TemplateConfig) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *TemplateConfig) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = TemplateConfig{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("template config: unsupported scan type %T", src)
	}
	out := TemplateConfig{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

// Clone returns an independent copy.
func (c TemplateConfig) Clone() TemplateConfig {
	out := make(TemplateConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every key of patch applied on top.
func (c TemplateConfig) Merge(patch TemplateConfig) TemplateConfig {
	out := c.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

type Campaign struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Description    string         `db:"description" json:"description"`
	Status         CampaignStatus `db:"status" json:"status"`
	TemplateConfig TemplateConfig `db:"template_config" json:"template_config"`
	BaseTemplate   string         `db:"base_template" json:"base_template,omitempty"`
	TotalEmails    int            `db:"total_emails" json:"total_emails"`
	EmailsSent     int            `db:"emails_sent" json:"emails_sent"`
	BatchCount     int            `db:"batch_count" json:"batch_count"`
	BatchSize      int            `db:"batch_size" json:"batch_size"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Editable reports whether name and template config may still change: only
// until the first email goes out. A retried campaign is back in ready but
// has sent emails, so it stays locked.
func (c *Campaign) Editable() bool {
	switch c.Status {
	case CampaignDraft:
		return true
	case CampaignReady:
		return c.EmailsSent == 0
	}
	return false
}
