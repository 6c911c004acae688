// internal/model/recipient.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Product struct {
	Name  string `json:"name"`
	Link  string `json:"link,omitempty"`
	Image string `json:"image,omitempty"`
	Price string `json:"price,omitempty"`
}

// Products is stored as a jsonb column.
type Products []Product

func (p Products) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Products) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Products{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("products: unsupported scan type %T", src)
	}
	out := Products{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*p = out
	return nil
}

type Recipient struct {
	CampaignID    string     `db:"campaign_id" json:"campaign_id"`
	RecordID      string     `db:"record_id" json:"record_id"`
	BatchNumber   int        `db:"batch_number" json:"batch_number"`
	Position      int        `db:"position" json:"position"`
	CustomerEmail string     `db:"customer_email" json:"customer_email"`
	CustomerName  string     `db:"customer_name" json:"customer_name,omitempty"`
	SchoolCode    string     `db:"school_code" json:"school_code,omitempty"`
	SchoolName    string     `db:"school_name" json:"school_name,omitempty"`
	SchoolPage    string     `db:"school_page" json:"school_page,omitempty"`
	SchoolLogo    string     `db:"school_logo" json:"school_logo,omitempty"`
	Products      Products   `db:"products" json:"products"`
	EmailSent     bool       `db:"email_sent" json:"email_sent"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
}
