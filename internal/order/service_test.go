package order_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/audit"
	auditPostgres "github.com/frahmantamala/meddevice-orders/internal/audit/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/bom"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	"github.com/frahmantamala/meddevice-orders/internal/core/database/dbtest"
	auditDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/audit"
	orderDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/order"
	"github.com/frahmantamala/meddevice-orders/internal/core/events"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	orderPostgres "github.com/frahmantamala/meddevice-orders/internal/order/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
)

type failingRecorder struct {
	next audit.Recorder
	fail bool
}

func (r *failingRecorder) Record(ctx context.Context, entry audit.Entry) error {
	if r.fail {
		return internal.ErrAuditWriteFailed.WithCause(errors.New("audit store offline"))
	}
	return r.next.Record(ctx, entry)
}

// racingRepository bumps the stored version right before the first n
// conditional writes, as a second process would.
type racingRepository struct {
	order.Repository
	db    *gorm.DB
	races int
}

func (r *racingRepository) UpdatePhase(ctx context.Context, id, expectedVersion int64, phase order.Phase, cancelledAt *time.Time) (bool, error) {
	if r.races > 0 {
		r.races--
		if err := database.Conn(ctx, r.db).Model(&orderDatamodel.Order{}).
			Where("id = ?", id).
			Update("version", gorm.Expr("version + 1")).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.UpdatePhase(ctx, id, expectedVersion, phase, cancelledAt)
}

func principal(id int64, roles ...rbac.Role) rbac.Principal {
	return rbac.Principal{UserID: id, Username: "user", Roles: roles}
}

var _ = Describe("Order Service", func() {
	var (
		db        *gorm.DB
		repo      order.Repository
		recorder  *failingRecorder
		bus       *events.EventBus
		generator bom.Generator
		service   *order.Service
		ctx       context.Context

		publishedMu sync.Mutex
		published   []*events.OrderPhaseChangedEvent
	)

	admin := principal(1, rbac.RoleAdmin)

	build := func(timeout time.Duration) {
		service = order.NewService(order.Dependencies{
			Repository: repo,
			Engine:     rbac.NewEngine(rbac.DefaultCatalog()),
			Audit:      recorder,
			Transactor: database.NewTransactor(db),
			BOM: bom.GeneratorFunc(func(ctx context.Context, req bom.Request) (*bom.Result, error) {
				return generator.Generate(ctx, req)
			}),
			BOMTimeout: timeout,
			Publisher:  bus,
			Logger:     logger.Discard(),
		}).WithClock(func() time.Time { return time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC) })
	}

	create := func() *order.Order {
		o, err := service.CreateOrder(ctx, principal(2, rbac.RoleSalesRep), order.CreateOrderDTO{
			Priority:     "rush",
			CustomerName: "St. Mary Clinic",
			DeviceType:   "insulin-pump",
		})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	advanceTo := func(o *order.Order, target order.Phase) *order.Order {
		current := o
		for current.Phase != target {
			next, ok := order.Successor(current.Phase)
			Expect(ok).To(BeTrue())
			var err error
			current, err = service.AttemptTransition(ctx, admin, o.OrderNumber, next, "")
			Expect(err).NotTo(HaveOccurred())
		}
		return current
	}

	stored := func(number string) *orderDatamodel.Order {
		var row orderDatamodel.Order
		Expect(db.Where("order_number = ?", number).First(&row).Error).To(Succeed())
		return &row
	}

	records := func(o *order.Order, outcome string) []orderDatamodel.PhaseTransitionRecord {
		var rows []orderDatamodel.PhaseTransitionRecord
		Expect(db.Where("order_id = ? AND outcome = ?", o.ID, outcome).Order("id ASC").Find(&rows).Error).To(Succeed())
		return rows
	}

	auditEntries := func(action string) []auditDatamodel.AuditLog {
		var rows []auditDatamodel.AuditLog
		Expect(db.Where("action = ?", action).Order("id ASC").Find(&rows).Error).To(Succeed())
		return rows
	}

	BeforeEach(func() {
		var err error
		db, err = dbtest.Open()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()

		repo = orderPostgres.NewOrderRepository(db)
		recorder = &failingRecorder{next: audit.NewService(auditPostgres.NewAuditRepository(db), rbac.NewEngine(rbac.DefaultCatalog()), logger.Discard())}
		generator = bom.GeneratorFunc(func(ctx context.Context, req bom.Request) (*bom.Result, error) {
			return &bom.Result{BOMID: "BOM-" + req.OrderNumber, LineItems: 4}, nil
		})

		published = nil
		bus = events.NewEventBus(logger.Discard())
		bus.Subscribe(events.EventTypeOrderPhaseChanged, func(ctx context.Context, event events.Event) error {
			publishedMu.Lock()
			defer publishedMu.Unlock()
			published = append(published, event.(*events.OrderPhaseChangedEvent))
			return nil
		})

		build(time.Second)
	})

	Describe("CreateOrder", func() {
		It("opens the order in DRAFT with a yearly number", func() {
			o := create()
			Expect(o.OrderNumber).To(Equal("ORD-2026-001"))
			Expect(o.Phase).To(Equal(order.PhaseDraft))
			Expect(o.Version).To(Equal(int64(1)))
			Expect(o.CreatedBy).To(Equal(int64(2)))
			Expect(auditEntries(audit.ActionOrderCreate)).To(HaveLen(1))
		})

		It("requires ORDER_CREATE and audits the denial", func() {
			_, err := service.CreateOrder(ctx, principal(7, rbac.RoleWarehouse), order.CreateOrderDTO{
				Priority: "standard", CustomerName: "Clinic", DeviceType: "stent",
			})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())

			entries := auditEntries(audit.ActionOrderCreate)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal("denied"))

			var count int64
			Expect(db.Model(&orderDatamodel.Order{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
		})

		It("rejects an unknown priority", func() {
			_, err := service.CreateOrder(ctx, admin, order.CreateOrderDTO{
				Priority: "whenever", CustomerName: "Clinic", DeviceType: "stent",
			})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("AttemptTransition", func() {
		var o *order.Order

		BeforeEach(func() {
			o = create()
		})

		It("walks the whole lifecycle and publishes every change", func() {
			final := advanceTo(o, order.PhaseDelivered)
			Expect(final.Phase).To(Equal(order.PhaseDelivered))
			Expect(final.Version).To(Equal(int64(8)))
			Expect(records(o, "allowed")).To(HaveLen(7))

			bus.Wait()
			publishedMu.Lock()
			defer publishedMu.Unlock()
			Expect(published).To(HaveLen(7))
		})

		It("denies a principal without the edge permission and records it", func() {
			_, err := service.AttemptTransition(ctx, principal(7, rbac.RoleWarehouse), o.OrderNumber, order.PhaseConfiguration, "")
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())

			Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("DRAFT"))
			denied := records(o, "denied")
			Expect(denied).To(HaveLen(1))
			Expect(denied[0].ToPhase).To(Equal("CONFIGURATION"))
			Expect(denied[0].Reason).To(ContainSubstring("ORDER_CONFIGURE"))

			entries := auditEntries(audit.ActionOrderTransition)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Outcome).To(Equal("denied"))
		})

		It("refuses to skip phases", func() {
			_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseProduction, "")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("DRAFT"))
			Expect(records(o, "denied")).To(HaveLen(1))
		})

		It("does not advance twice for a repeated request", func() {
			_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			Expect(stored(o.OrderNumber).Version).To(Equal(int64(2)))
		})

		It("rejects unknown target phases before touching the order", func() {
			_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.Phase("ON_HOLD"), "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
			Expect(records(o, "denied")).To(BeEmpty())
		})

		It("returns ErrOrderNotFound for unknown orders", func() {
			_, err := service.AttemptTransition(ctx, admin, "ORD-1999-042", order.PhaseConfiguration, "")
			Expect(err).To(MatchError(internal.ErrOrderNotFound))
		})

		Context("approval to production", func() {
			BeforeEach(func() {
				o = advanceTo(o, order.PhaseApproval)
			})

			It("fails with DependencyFailed when bom generation times out", func() {
				late := make(chan struct{})
				generator = bom.GeneratorFunc(func(ctx context.Context, req bom.Request) (*bom.Result, error) {
					defer close(late)
					time.Sleep(200 * time.Millisecond)
					return &bom.Result{BOMID: "TOO-LATE"}, nil
				})
				build(50 * time.Millisecond)

				start := time.Now()
				_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseProduction, "")
				Expect(time.Since(start)).To(BeNumerically("<", 180*time.Millisecond))
				Expect(errors.Is(err, internal.ErrDependencyFailed)).To(BeTrue())

				Eventually(late).Should(BeClosed())
				Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("APPROVAL"))
				failed := records(o, "failed")
				Expect(failed).To(HaveLen(1))
				Expect(failed[0].ToPhase).To(Equal("PRODUCTION"))
			})

			It("fails with DependencyFailed when bom generation errors", func() {
				generator = bom.GeneratorFunc(func(ctx context.Context, req bom.Request) (*bom.Result, error) {
					return nil, bom.ErrGenerationRejected
				})

				_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseProduction, "")
				Expect(errors.Is(err, internal.ErrDependencyFailed)).To(BeTrue())
				Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("APPROVAL"))
			})

			It("checks permissions before calling the bom service", func() {
				called := false
				generator = bom.GeneratorFunc(func(ctx context.Context, req bom.Request) (*bom.Result, error) {
					called = true
					return &bom.Result{BOMID: "X"}, nil
				})

				_, err := service.AttemptTransition(ctx, principal(5, rbac.RoleEngineer), o.OrderNumber, order.PhaseProduction, "")
				Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
				Expect(called).To(BeFalse())
			})

			It("records the bom reference on success", func() {
				_, err := service.AttemptTransition(ctx, principal(6, rbac.RoleProductionManager), o.OrderNumber, order.PhaseProduction, "")
				Expect(err).NotTo(HaveOccurred())

				entries := auditEntries(audit.ActionOrderTransition)
				Expect(entries[len(entries)-1].NewValues).To(ContainSubstring("BOM-" + o.OrderNumber))
			})
		})

		Context("rollback", func() {
			BeforeEach(func() {
				o = advanceTo(o, order.PhaseQualityControl)
			})

			It("moves back one phase with a reason", func() {
				updated, err := service.AttemptTransition(ctx, principal(8, rbac.RoleQCInspector), o.OrderNumber, order.PhaseProduction, "defect found")
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Phase).To(Equal(order.PhaseProduction))

				entries := auditEntries(audit.ActionOrderRollback)
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].Reason).To(Equal("defect found"))
				Expect(entries[0].Outcome).To(Equal("allowed"))

				allowed := records(o, "allowed")
				Expect(allowed[len(allowed)-1].Reason).To(Equal("defect found"))
			})

			It("fails validation without a reason and writes nothing", func() {
				before := len(records(o, "allowed"))

				_, err := service.AttemptTransition(ctx, principal(8, rbac.RoleQCInspector), o.OrderNumber, order.PhaseProduction, "   ")
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))

				Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("QUALITY_CONTROL"))
				Expect(records(o, "allowed")).To(HaveLen(before))
				Expect(records(o, "denied")).To(BeEmpty())
				Expect(auditEntries(audit.ActionOrderRollback)).To(BeEmpty())
			})

			It("requires the correction permission", func() {
				_, err := service.AttemptTransition(ctx, principal(5, rbac.RoleEngineer), o.OrderNumber, order.PhaseProduction, "defect found")
				Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
				Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("QUALITY_CONTROL"))
			})
		})

		Context("cancel", func() {
			It("needs ORDER_CANCEL", func() {
				_, err := service.AttemptTransition(ctx, principal(2, rbac.RoleSalesRep), o.OrderNumber, order.PhaseCancelled, "customer withdrew")
				Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			})

			It("marks the order cancelled and makes it terminal", func() {
				updated, err := service.AttemptTransition(ctx, principal(3, rbac.RoleSalesManager), o.OrderNumber, order.PhaseCancelled, "customer withdrew")
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Phase).To(Equal(order.PhaseCancelled))
				Expect(updated.CancelledAt).NotTo(BeNil())
				Expect(stored(o.OrderNumber).CancelledAt).NotTo(BeNil())
				Expect(auditEntries(audit.ActionOrderCancel)).To(HaveLen(1))

				_, err = service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseDraft, "reopen")
				Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			})
		})

		It("accepts nothing once delivered", func() {
			o = advanceTo(o, order.PhaseDelivered)
			for _, target := range []order.Phase{order.PhaseShipping, order.PhaseCancelled} {
				_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, target, "late change")
				Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			}
		})

		It("aborts when the audit write fails", func() {
			recorder.fail = true

			_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
			Expect(errors.Is(err, internal.ErrAuditWriteFailed)).To(BeTrue())

			row := stored(o.OrderNumber)
			Expect(row.CurrentPhase).To(Equal("DRAFT"))
			Expect(row.Version).To(Equal(int64(1)))
			Expect(records(o, "allowed")).To(BeEmpty())
		})

		It("reports AuditWriteFailed instead of Forbidden when the denial cannot be audited", func() {
			recorder.fail = true

			_, err := service.AttemptTransition(ctx, principal(7, rbac.RoleWarehouse), o.OrderNumber, order.PhaseConfiguration, "")
			Expect(errors.Is(err, internal.ErrAuditWriteFailed)).To(BeTrue())
			Expect(records(o, "denied")).To(BeEmpty())
		})

		It("lets exactly one of many concurrent attempts win", func() {
			const callers = 8
			var wg sync.WaitGroup
			results := make(chan error, callers)
			for range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			var ok, invalid int
			for err := range results {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, internal.ErrInvalidTransition):
					invalid++
				}
			}
			Expect(ok).To(Equal(1))
			Expect(invalid).To(Equal(callers - 1))
			Expect(stored(o.OrderNumber).Version).To(Equal(int64(2)))
		})

		Context("version conflicts", func() {
			var racing *racingRepository

			BeforeEach(func() {
				racing = &racingRepository{Repository: repo, db: db}
				repo = racing
				build(time.Second)
			})

			It("reloads and retries after a concurrent write", func() {
				racing.races = 1
				updated, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Phase).To(Equal(order.PhaseConfiguration))
				Expect(records(o, "allowed")).To(HaveLen(1))
			})

			It("gives up with a conflict after repeated races", func() {
				racing.races = 3
				_, err := service.AttemptTransition(ctx, admin, o.OrderNumber, order.PhaseConfiguration, "")
				Expect(errors.Is(err, internal.ErrTransitionConflict)).To(BeTrue())
				Expect(stored(o.OrderNumber).CurrentPhase).To(Equal("DRAFT"))
			})
		})
	})

	Describe("read operations", func() {
		var o *order.Order

		BeforeEach(func() {
			o = advanceTo(create(), order.PhaseApproval)
		})

		It("returns the order to viewers", func() {
			got, err := service.GetOrder(ctx, principal(9, rbac.RoleAuditor), o.OrderNumber)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Phase).To(Equal(order.PhaseApproval))
		})

		It("denies principals without roles", func() {
			_, err := service.GetOrder(ctx, principal(10), o.OrderNumber)
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			Expect(auditEntries("order.view")).To(HaveLen(1))
		})

		It("lists the history oldest first", func() {
			history, err := service.ListTransitions(ctx, admin, o.OrderNumber)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ToPhase).To(Equal(order.PhaseConfiguration))
			Expect(history[1].ToPhase).To(Equal(order.PhaseApproval))
		})

		It("offers only the moves the principal may make", func() {
			manager, err := service.AvailableTransitions(ctx, principal(6, rbac.RoleProductionManager), o.OrderNumber)
			Expect(err).NotTo(HaveOccurred())
			Expect(manager).To(ConsistOf(
				order.AvailableTransitionV1{Target: order.PhaseProduction, Kind: order.KindForward},
				order.AvailableTransitionV1{Target: order.PhaseConfiguration, Kind: order.KindRollback, RequiresReason: true},
			))

			rep, err := service.AvailableTransitions(ctx, principal(2, rbac.RoleSalesRep), o.OrderNumber)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep).To(BeEmpty())
		})

		It("lists orders by phase", func() {
			create()
			orders, err := service.ListOrders(ctx, admin, order.ListOrdersFilter{Phase: "DRAFT"})
			Expect(err).NotTo(HaveOccurred())
			Expect(orders).To(HaveLen(1))
		})
	})
})
