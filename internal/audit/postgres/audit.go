package postgres

import (
	"context"

	"github.com/frahmantamala/meddevice-orders/internal/audit"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) audit.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *auditDatamodel.AuditLog) error {
	return database.Conn(ctx, r.db).Create(entry).Error
}

func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]*auditDatamodel.AuditLog, int64, error) {
	conn := database.Conn(ctx, r.db)

	var total int64
	if err := applyFilter(conn.Model(&auditDatamodel.AuditLog{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*auditDatamodel.AuditLog
	err := applyFilter(conn.Model(&auditDatamodel.AuditLog{}), filter).
		Order("timestamp DESC").Order("id DESC").
		Limit(filter.PageSize).
		Offset(filter.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func applyFilter(query *gorm.DB, filter audit.Filter) *gorm.DB {
	if filter.ActorID != nil {
		query = query.Where("actor_id = ?", *filter.ActorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Table != "" {
		query = query.Where("table_name = ?", filter.Table)
	}
	if filter.RecordID != "" {
		query = query.Where("record_id = ?", filter.RecordID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.Since != nil {
		query = query.Where("timestamp >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("timestamp < ?", *filter.Until)
	}
	return query
}
