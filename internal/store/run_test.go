package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/vmtag-sync/internal/config"
	"github.com/kubev2v/vmtag-sync/internal/reconcile"
	st "github.com/kubev2v/vmtag-sync/internal/store"
	"github.com/kubev2v/vmtag-sync/internal/store/model"
	"github.com/kubev2v/vmtag-sync/internal/syncer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("run store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
		dir    string
	)

	BeforeAll(func() {
		var err error
		dir, err = os.MkdirTemp("", "vmtag-sync-store")
		Expect(err).To(BeNil())

		cfg, err := config.Load()
		Expect(err).To(BeNil())
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(dir, "history.db")

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store.Migrate(context.TODO())).To(Succeed())
	})

	AfterAll(func() {
		store.Close()
		os.RemoveAll(dir)
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM run_entries;")
		gormDB.Exec("DELETE FROM runs;")
	})

	Context("create", func() {
		It("stores a run with its entries", func() {
			run, err := store.Runs().Create(context.TODO(), model.Run{
				StartedAt: time.Now(),
				Source:    "desired.xlsx",
				Rows:      2,
				Applied:   1,
				Entries: []model.RunEntry{
					{Position: 1, Entity: "vm2", Status: "changed", Category: "Team", Desired: "X", Outcome: "applied"},
					{Position: 0, Entity: "vm1", Status: "not-found"},
				},
			})
			Expect(err).To(BeNil())
			Expect(run.ID).NotTo(Equal(uuid.Nil))

			var count int
			tx := gormDB.Raw("SELECT COUNT(*) FROM run_entries WHERE run_id = ?", run.ID).Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(2))

			got, err := store.Runs().Get(context.TODO(), run.ID)
			Expect(err).To(BeNil())
			Expect(got.Source).To(Equal("desired.xlsx"))
			Expect(got.Applied).To(Equal(1))
			Expect(got.Entries).To(HaveLen(2))
			Expect(got.Entries[0].Entity).To(Equal("vm1"))
			Expect(got.Entries[1].Outcome).To(Equal("applied"))
		})

		It("refuses a duplicate id", func() {
			id := uuid.New()
			_, err := store.Runs().Create(context.TODO(), model.Run{ID: id, StartedAt: time.Now()})
			Expect(err).To(BeNil())

			_, err = store.Runs().Create(context.TODO(), model.Run{ID: id, StartedAt: time.Now()})
			Expect(errors.Is(err, st.ErrDuplicateKey)).To(BeTrue())
		})

		It("stores within a transaction", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			run, err := store.Runs().Create(ctx, model.Run{StartedAt: time.Now()})
			Expect(err).To(BeNil())

			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())

			_, err = store.Runs().Get(context.TODO(), run.ID)
			Expect(err).To(BeNil())
		})

		It("refuses to end the same transaction twice", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Runs().Create(ctx, model.Run{StartedAt: time.Now()})
			Expect(err).To(BeNil())

			after, err := st.Commit(ctx)
			Expect(err).To(BeNil())
			Expect(st.FromContext(after)).To(BeNil())

			_, err = st.Rollback(ctx)
			Expect(errors.Is(err, st.ErrTransactionClosed)).To(BeTrue())
		})

		It("joins the transaction already carried by the context", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			joined, err := store.NewTransactionContext(ctx)
			Expect(err).To(BeNil())
			Expect(st.FromContext(joined)).To(BeIdenticalTo(st.FromContext(ctx)))

			run, err := store.Runs().Create(joined, model.Run{StartedAt: time.Now()})
			Expect(err).To(BeNil())

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())
			_, err = store.Runs().Get(context.TODO(), run.ID)
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})

		It("discards a rolled back run", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			run, err := store.Runs().Create(ctx, model.Run{StartedAt: time.Now()})
			Expect(err).To(BeNil())

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())

			_, err = store.Runs().Get(context.TODO(), run.ID)
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("list", func() {
		BeforeEach(func() {
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				_, err := store.Runs().Create(context.TODO(), model.Run{
					StartedAt: base.Add(time.Duration(i) * time.Hour),
					DryRun:    i == 1,
					Source:    "desired.xlsx",
				})
				Expect(err).To(BeNil())
			}
		})

		It("returns the most recent runs first", func() {
			runs, err := store.Runs().List(context.TODO(), st.NewRunQueryFilter(), st.NewRunQueryOptions())
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(3))
			Expect(runs[0].StartedAt.After(runs[1].StartedAt)).To(BeTrue())
			Expect(runs[1].StartedAt.After(runs[2].StartedAt)).To(BeTrue())
		})

		It("limits the result", func() {
			runs, err := store.Runs().List(context.TODO(), nil, st.NewRunQueryOptions().WithLimit(2))
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(2))
		})

		It("filters dry runs", func() {
			runs, err := store.Runs().List(context.TODO(), st.NewRunQueryFilter().ByDryRun(true), nil)
			Expect(err).To(BeNil())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].DryRun).To(BeTrue())
		})
	})

	Context("delete", func() {
		It("removes the run and its entries", func() {
			run, err := store.Runs().Create(context.TODO(), model.Run{
				StartedAt: time.Now(),
				Entries:   []model.RunEntry{{Entity: "vm1", Status: "failed"}},
			})
			Expect(err).To(BeNil())

			Expect(store.Runs().Delete(context.TODO(), run.ID)).To(Succeed())

			var count int
			tx := gormDB.Raw("SELECT COUNT(*) FROM run_entries").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(0))

			Expect(errors.Is(store.Runs().Delete(context.TODO(), run.ID), st.ErrRecordNotFound)).To(BeTrue())
		})
	})
})

var _ = Describe("report mapping", func() {
	It("keeps one entry per touched category", func() {
		report := &syncer.Report{
			StartedAt: time.Now(),
			Rows:      3,
			Unchanged: 1,
			Applied:   1,
			NotFound:  1,
			Entries: []syncer.EntityResult{
				{Index: 0, Entity: "vm1", Status: syncer.StatusUnchanged},
				{Index: 1, Entity: "vm2", Status: syncer.StatusChanged, Categories: []syncer.CategoryResult{
					{Category: "Owner", Desired: "Bob", Previous: "Alice", Outcome: reconcile.Applied},
					{Category: "Colour", Desired: "Blue", Outcome: syncer.InvalidCategory, Error: "category \"Colour\" does not exist"},
				}},
				{Index: 2, Entity: "vm-ghost", Status: syncer.StatusNotFound, Error: "entity \"vm-ghost\" not found"},
			},
		}

		run := st.FromReport(report, "desired.xlsx", errors.New("connectivity lost"))
		Expect(run.Source).To(Equal("desired.xlsx"))
		Expect(run.Aborted).To(Equal("connectivity lost"))
		Expect(run.Applied).To(Equal(1))
		Expect(run.Entries).To(HaveLen(3))
		Expect(run.Entries[0]).To(Equal(model.RunEntry{
			Position: 1, Entity: "vm2", Status: "changed", Category: "Owner", Desired: "Bob", Previous: "Alice", Outcome: "applied",
		}))
		Expect(run.Entries[1].Outcome).To(Equal("invalid-category"))
		Expect(run.Entries[2].Status).To(Equal("not-found"))
		Expect(run.Entries[2].Category).To(BeEmpty())
	})
})
