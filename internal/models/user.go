package models

import "time"

// User is the subset of the account record the pipeline reads. Accounts are
// owned elsewhere; family membership is only used to resolve who to escalate to.
type User struct {
	UserID   int64  `gorm:"column:user_id;primaryKey" json:"user_id"`
	Phone    string `gorm:"column:phone;type:varchar(20)" json:"phone"`
	Username string `gorm:"column:username;type:varchar(50)" json:"username"`
	Name     string `gorm:"column:name;type:varchar(50)" json:"name"`
	FamilyID *int64 `gorm:"column:family_id;index" json:"family_id,omitempty"`
	IsActive bool   `gorm:"column:is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string { return "users" }

// DisplayName is what family members see in an SMS.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
