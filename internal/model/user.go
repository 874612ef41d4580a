package model

import (
	"strings"
	"time"
)

const (
	MaxNickNameLength         = 64
	MaxOccupationLength       = 255
	MaxStylePreferencesLength = 1024
)

type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Username         string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email            string    `gorm:"size:128;not null;uniqueIndex" json:"email"`
	PasswordHash     string    `gorm:"size:255;not null" json:"-"`
	NickName         *string   `gorm:"size:64" json:"nick_name"`
	Occupation       *string   `gorm:"size:255" json:"occupation"`
	StylePreferences *string   `gorm:"size:1024" json:"style_preferences"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Personalization is what the assistant is told about the user. Empty
// fields are left out of the prompt.
type Personalization struct {
	NickName         string
	Occupation       string
	StylePreferences string
}

func (p Personalization) IsZero() bool {
	return p == Personalization{}
}

func (u *User) Personalization() Personalization {
	if u == nil {
		return Personalization{}
	}
	return Personalization{
		NickName:         deref(u.NickName),
		Occupation:       deref(u.Occupation),
		StylePreferences: deref(u.StylePreferences),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
