package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	UserRoleAdmin = "admin"
	UserRoleHR    = "hr"
	UserRoleUser  = "user"
)

// User is a portal login. Identity is verified upstream by the SSO provider
// at login time; the portal only issues and checks its own JWTs afterwards.
type User struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	Username   string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Name       string    `gorm:"size:255" json:"name"`
	Password   string    `gorm:"size:255" json:"-"`
	Role       string    `gorm:"size:20;default:user" json:"role"`
	EmployeeID *uint     `gorm:"index" json:"employee_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var user User
	err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
