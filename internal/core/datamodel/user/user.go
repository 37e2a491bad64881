package user

import "time"

// User is the persisted credential record. Username and email are stored
// lower-cased so lookups are case-insensitive on every driver.
// CredentialVersion is bumped on every password change and pins the
// sessions issued against it.
type User struct {
	ID                  int64      `gorm:"primaryKey"`
	Username            string     `gorm:"column:username;uniqueIndex;not null"`
	Email               string     `gorm:"column:email;uniqueIndex;not null"`
	FullName            string     `gorm:"column:full_name"`
	PasswordHash        string     `gorm:"column:password_hash;not null"`
	FailedLoginAttempts int        `gorm:"column:failed_login_attempts;not null;default:0"`
	IsLocked            bool       `gorm:"column:is_locked;not null;default:false"`
	LockedUntil         *time.Time `gorm:"column:locked_until"`
	PasswordChangedAt   time.Time  `gorm:"column:password_changed_at;not null"`
	PasswordExpiresAt   time.Time  `gorm:"column:password_expires_at;not null"`
	MustChangePassword  bool       `gorm:"column:must_change_password;not null;default:false"`
	CredentialVersion   int64      `gorm:"column:credential_version;not null;default:0"`
	IsActive            bool       `gorm:"column:is_active;not null"`
	LastLogin           *time.Time `gorm:"column:last_login"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
