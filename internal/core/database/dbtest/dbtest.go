// Package dbtest opens throwaway SQLite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"sync/atomic"

	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
	orderDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/order"
	rbacDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq int64

// Open returns an isolated in-memory database with every table migrated. The
// pool is capped at one connection so the shared-cache database survives and
// transactions serialize the way row locks would on postgres.
func Open() (*gorm.DB, error) {
	name := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_foreign_keys=on", atomic.AddInt64(&seq, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&userDatamodel.User{},
		&rbacDatamodel.Role{},
		&rbacDatamodel.Permission{},
		&rbacDatamodel.RolePermission{},
		&rbacDatamodel.UserRoleAssignment{},
		&orderDatamodel.Order{},
		&orderDatamodel.PhaseTransitionRecord{},
		&auditDatamodel.AuditLog{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}
