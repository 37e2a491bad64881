package user_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/audit"
	auditPostgres "github.com/frahmantamala/meddevice-orders/internal/audit/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	"github.com/frahmantamala/meddevice-orders/internal/core/database/dbtest"
	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
	userDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/user"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	rbacPostgres "github.com/frahmantamala/meddevice-orders/internal/rbac/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/user"
	userPostgres "github.com/frahmantamala/meddevice-orders/internal/user/postgres"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

type offlineRecorder struct{}

func (offlineRecorder) Record(ctx context.Context, entry audit.Entry) error {
	return internal.ErrAuditWriteFailed.WithCause(errors.New("audit store offline"))
}

var _ = Describe("User Service", func() {
	var (
		db       *gorm.DB
		ctx      context.Context
		engine   *rbac.Engine
		resolver *rbac.Resolver
		service  *user.Service
		target   *userDatamodel.User
		now      time.Time
	)

	admin := rbac.Principal{UserID: 1, Username: "admin", Roles: []rbac.Role{rbac.RoleAdmin}}

	build := func(recorder audit.Recorder) {
		service = user.NewService(
			userPostgres.NewUserRepository(db),
			engine,
			recorder,
			database.NewTransactor(db),
			logger.Discard(),
		).WithClock(func() time.Time { return now })
	}

	auditEntries := func() []auditDatamodel.AuditLog {
		var rows []auditDatamodel.AuditLog
		Expect(db.Where("action = ?", audit.ActionRoleAssign).Order("id ASC").Find(&rows).Error).To(Succeed())
		return rows
	}

	BeforeEach(func() {
		var err error
		db, err = dbtest.Open()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		now = time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

		Expect(rbacPostgres.NewCatalogRepository(db).Seed(ctx, rbac.DefaultCatalog())).To(Succeed())
		engine = rbac.NewEngine(rbac.DefaultCatalog())
		resolver = rbac.NewResolver(rbacPostgres.NewAssignmentRepository(db), logger.Discard()).
			WithClock(func() time.Time { return now })

		target = &userDatamodel.User{
			Username:          "jdoe",
			Email:             "jdoe@example.com",
			FullName:          "Jane Doe",
			PasswordHash:      "x",
			PasswordChangedAt: now,
			PasswordExpiresAt: now.AddDate(0, 0, 90),
			IsActive:          true,
		}
		Expect(db.Create(target).Error).To(Succeed())

		build(audit.NewService(auditPostgres.NewAuditRepository(db), engine, logger.Discard()))
	})

	Describe("GetProfile", func() {
		It("returns the account with the request's roles and effective permissions", func() {
			p := rbac.Principal{UserID: target.ID, Username: "jdoe", Roles: []rbac.Role{rbac.RoleAuditor}}

			profile, err := service.GetProfile(ctx, p)

			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Username).To(Equal("jdoe"))
			Expect(profile.FullName).To(Equal("Jane Doe"))
			Expect(profile.Roles).To(ConsistOf(rbac.RoleAuditor))
			Expect(profile.Permissions).To(ContainElements(rbac.PermAuditView, rbac.PermOrderView))
			Expect(profile.Permissions).NotTo(ContainElement(rbac.PermOrderCreate))
		})

		It("reports a missing account", func() {
			_, err := service.GetProfile(ctx, rbac.Principal{UserID: 999})
			Expect(errors.Is(err, internal.ErrUserNotFound)).To(BeTrue())
		})
	})

	Describe("AssignRole", func() {
		It("grants the role, visible on the next resolution, and audits it", func() {
			before, err := resolver.Resolve(ctx, target.ID, "jdoe")
			Expect(err).NotTo(HaveOccurred())
			Expect(before.Roles).To(BeEmpty())

			until := now.Add(24 * time.Hour)
			assignment, err := service.AssignRole(ctx, admin, target.ID, user.AssignRoleDTO{
				Role:           string(rbac.RoleQCInspector),
				EffectiveUntil: &until,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(assignment.Role).To(Equal(rbac.RoleQCInspector))
			Expect(assignment.GrantedBy).To(Equal(int64(1)))

			after, err := resolver.Resolve(ctx, target.ID, "jdoe")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Roles).To(ConsistOf(rbac.RoleQCInspector))

			entries := auditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal(string(audit.OutcomeAllowed)))
		})

		It("rejects an unknown role code", func() {
			_, err := service.AssignRole(ctx, admin, target.ID, user.AssignRoleDTO{Role: "JANITOR"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
			Expect(auditEntries()).To(BeEmpty())
		})

		It("rejects an expiry in the past", func() {
			past := now.Add(-time.Minute)
			_, err := service.AssignRole(ctx, admin, target.ID, user.AssignRoleDTO{
				Role:           string(rbac.RoleWarehouse),
				EffectiveUntil: &past,
			})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("requires ROLE_ASSIGN and audits the denial", func() {
			manager := rbac.Principal{UserID: 5, Roles: []rbac.Role{rbac.RoleSalesManager}}

			_, err := service.AssignRole(ctx, manager, target.ID, user.AssignRoleDTO{Role: string(rbac.RoleAdmin)})

			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			entries := auditEntries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal(string(audit.OutcomeDenied)))

			p, err := resolver.Resolve(ctx, target.ID, "jdoe")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Roles).To(BeEmpty())
		})

		It("reports an unknown user without writing anything", func() {
			_, err := service.AssignRole(ctx, admin, 999, user.AssignRoleDTO{Role: string(rbac.RoleWarehouse)})

			Expect(errors.Is(err, internal.ErrUserNotFound)).To(BeTrue())
			Expect(auditEntries()).To(BeEmpty())
		})

		It("rolls the grant back when the audit entry cannot be written", func() {
			build(offlineRecorder{})

			_, err := service.AssignRole(ctx, admin, target.ID, user.AssignRoleDTO{Role: string(rbac.RoleWarehouse)})

			Expect(errors.Is(err, internal.ErrAuditWriteFailed)).To(BeTrue())
			p, err := resolver.Resolve(ctx, target.ID, "jdoe")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Roles).To(BeEmpty())
		})
	})
})
