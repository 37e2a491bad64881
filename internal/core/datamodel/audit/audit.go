package audit

import "time"

// AuditLog rows are insert-only; the postgres schema rejects UPDATE and DELETE.
type AuditLog struct {
	ID            string    `gorm:"column:id;primaryKey;size:26"`
	ActorID       *int64    `gorm:"column:actor_id;index"`
	Action        string    `gorm:"column:action;not null"`
	ResourceTable string    `gorm:"column:table_name;not null"`
	RecordID      string    `gorm:"column:record_id"`
	OldValues     string    `gorm:"column:old_values"`
	NewValues     string    `gorm:"column:new_values"`
	IP            string    `gorm:"column:ip"`
	Outcome       string    `gorm:"column:outcome;not null"`
	Reason        string    `gorm:"column:reason"`
	Timestamp     time.Time `gorm:"column:timestamp;not null;index"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
