package model

import "gorm.io/gorm"

// User rows are owned by the auth service; this service only reads them.
type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Role     string `json:"role"`
}
