package order

import "time"

type Order struct {
	ID           int64      `gorm:"primaryKey"`
	OrderNumber  string     `gorm:"column:order_number;uniqueIndex;not null"`
	CurrentPhase string     `gorm:"column:current_phase;not null"`
	Priority     string     `gorm:"column:priority;not null"`
	CustomerName string     `gorm:"column:customer_name"`
	DeviceType   string     `gorm:"column:device_type"`
	Notes        string     `gorm:"column:notes"`
	AssignedTo   *int64     `gorm:"column:assigned_to"`
	CreatedBy    int64      `gorm:"column:created_by;not null"`
	Version      int64      `gorm:"column:version;not null"`
	CancelledAt  *time.Time `gorm:"column:cancelled_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

type PhaseTransitionRecord struct {
	ID        int64     `gorm:"primaryKey"`
	OrderID   int64     `gorm:"column:order_id;not null;index"`
	FromPhase string    `gorm:"column:from_phase;not null"`
	ToPhase   string    `gorm:"column:to_phase;not null"`
	ActorID   int64     `gorm:"column:actor_id;not null"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
	Outcome   string    `gorm:"column:outcome;not null"`
	Reason    string    `gorm:"column:reason"`
}

func (PhaseTransitionRecord) TableName() string {
	return "phase_transition_records"
}
