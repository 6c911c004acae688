// internal/model/test_user.go
package model

import "time"

// TestUser receives test sends in place of real recipients.
type TestUser struct {
	Email      string    `db:"email" json:"email"`
	Name       string    `db:"name" json:"name"`
	SchoolCode string    `db:"school_code" json:"school_code"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AsRecipient adapts a test user so it can go through the renderer.
func (u *TestUser) AsRecipient(campaignID string, n int) *Recipient {
	return &Recipient{
		CampaignID:    campaignID,
		RecordID:      "test_" + u.Email,
		Position:      n,
		CustomerEmail: u.Email,
		CustomerName:  u.Name,
		SchoolCode:    u.SchoolCode,
		Products:      Products{{Name: "Test Product", Price: "19.99"}},
	}
}

// School holds the per school branding used to personalize emails.
type School struct {
	SchoolCode string `db:"school_code" json:"school_code"`
	SchoolName string `db:"school_name" json:"school_name"`
	SchoolPage string `db:"school_page" json:"school_page,omitempty"`
	SchoolLogo string `db:"school_logo" json:"school_logo,omitempty"`
}
