package reconcile_test

import (
	"context"
	"errors"
	"time"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/inventory/fake"
	"github.com/kubev2v/vmtag-sync/internal/reconcile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("reconciler", func() {
	var (
		inv               *fake.Inventory
		vm1               inventory.Entity
		owner             inventory.Category
		alice, bob, carol inventory.Tag
		r                 *reconcile.Reconciler
	)

	BeforeEach(func() {
		inv = fake.New()
		vm1 = inv.AddEntity("vm1")
		owner = inv.AddCategory("Owner")
		alice = inv.AddTag(owner, "Alice")
		bob = inv.AddTag(owner, "Bob")
		carol = inv.AddTag(owner, "Carol")
		r = reconcile.New(inv)
	})

	It("replaces a differing value", func() {
		inv.Attach(vm1, alice)

		outcome, err := r.Reconcile(context.TODO(), vm1, bob)
		Expect(err).To(BeNil())
		Expect(outcome).To(Equal(reconcile.Applied))
		Expect(inv.Calls(fake.MethodRemoveAssignment)).To(Equal(1))
		Expect(inv.Calls(fake.MethodCreateAssignment)).To(Equal(1))
		Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Bob"}))
	})

	It("applies a value to an untagged entity", func() {
		outcome, err := r.Reconcile(context.TODO(), vm1, alice)
		Expect(err).To(BeNil())
		Expect(outcome).To(Equal(reconcile.Applied))
		Expect(inv.Calls(fake.MethodRemoveAssignment)).To(Equal(0))
		Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Alice"}))
	})

	It("is idempotent", func() {
		first, err := r.Reconcile(context.TODO(), vm1, bob)
		Expect(err).To(BeNil())
		second, err := r.Reconcile(context.TODO(), vm1, bob)
		Expect(err).To(BeNil())

		Expect(first).To(Equal(reconcile.Applied))
		Expect(second).To(Equal(reconcile.AlreadyCorrect))
		Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Bob"}))
		Expect(inv.Calls(fake.MethodCreateAssignment)).To(Equal(1))
	})

	It("removes duplicates and keeps the matching assignment", func() {
		inv.Attach(vm1, alice)
		inv.Attach(vm1, carol)
		inv.Attach(vm1, bob)

		outcome, err := r.Reconcile(context.TODO(), vm1, alice)
		Expect(err).To(BeNil())
		Expect(outcome).To(Equal(reconcile.AlreadyCorrect))
		Expect(inv.Calls(fake.MethodRemoveAssignment)).To(Equal(2))
		Expect(inv.Calls(fake.MethodCreateAssignment)).To(Equal(0))
		Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Alice"}))
	})

	It("leaves other categories alone", func() {
		team := inv.AddCategory("Team")
		x := inv.AddTag(team, "X")
		inv.Attach(vm1, x)

		_, err := r.Reconcile(context.TODO(), vm1, alice)
		Expect(err).To(BeNil())
		Expect(inv.Values("vm1", "Team")).To(Equal([]string{"X"}))
	})

	Context("removal verification", func() {
		It("retries a removal that did not take effect once", func() {
			inv.Attach(vm1, alice)
			inv.StickRemoval(vm1, alice, 1)

			outcome, err := r.Reconcile(context.TODO(), vm1, bob)
			Expect(err).To(BeNil())
			Expect(outcome).To(Equal(reconcile.Applied))
			Expect(inv.Calls(fake.MethodRemoveAssignment)).To(Equal(2))
			Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Bob"}))
		})

		It("gives up after one retry and reports the stale value", func() {
			inv.Attach(vm1, alice)
			inv.StickRemoval(vm1, alice, 10)

			outcome, err := r.Reconcile(context.TODO(), vm1, bob)
			Expect(outcome).To(Equal(reconcile.RemovalNotConfirmed))
			var nc *inventory.ErrRemovalNotConfirmed
			Expect(errors.As(err, &nc)).To(BeTrue())
			Expect(nc.Entity).To(Equal("vm1"))
			Expect(nc.Category).To(Equal("Owner"))
			Expect(nc.Value).To(Equal("Alice"))
			Expect(inv.Calls(fake.MethodRemoveAssignment)).To(Equal(2))
			Expect(inv.Values("vm1", "Owner")).To(ConsistOf("Alice", "Bob"))
		})

		It("checks the assignment it removed, not the desired one", func() {
			inv.Attach(vm1, alice)
			inv.Attach(vm1, carol)
			inv.StickRemoval(vm1, carol, 10)

			outcome, err := r.Reconcile(context.TODO(), vm1, alice)
			Expect(outcome).To(Equal(reconcile.RemovalNotConfirmed))
			var nc *inventory.ErrRemovalNotConfirmed
			Expect(errors.As(err, &nc)).To(BeTrue())
			Expect(nc.Value).To(Equal("Carol"))
			Expect(inv.Calls(fake.MethodCreateAssignment)).To(Equal(0))
		})
	})

	Context("remote failures", func() {
		It("reports a failing listing as unavailable", func() {
			inv.Fail(fake.MethodListAssignments, errors.New("connection reset"))

			outcome, err := r.Reconcile(context.TODO(), vm1, alice)
			Expect(outcome).To(Equal(reconcile.RemoteUnavailable))
			Expect(inventory.IsRemoteUnavailable(err)).To(BeTrue())
		})

		It("reports a failing creation as unavailable", func() {
			inv.Fail(fake.MethodCreateAssignment, errors.New("401 unauthorized"))

			outcome, err := r.Reconcile(context.TODO(), vm1, alice)
			Expect(outcome).To(Equal(reconcile.RemoteUnavailable))
			Expect(inventory.IsRemoteUnavailable(err)).To(BeTrue())
		})

		It("bounds calls with the configured timeout", func() {
			slow := &slowTagging{Tagging: inv, delay: time.Second}
			r := reconcile.New(slow, reconcile.WithCallTimeout(10*time.Millisecond))

			outcome, err := r.Reconcile(context.TODO(), vm1, alice)
			Expect(outcome).To(Equal(reconcile.RemoteUnavailable))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})
	})

	Context("dry-run", func() {
		It("simulates the changes without writing", func() {
			inv.Attach(vm1, alice)
			dry := inventory.NewDryRun(inv)
			r := reconcile.New(dry, reconcile.WithDryRun(true))

			outcome, err := r.Reconcile(context.TODO(), vm1, bob)
			Expect(err).To(BeNil())
			Expect(outcome).To(Equal(reconcile.Applied))
			Expect(inv.Mutations()).To(Equal(0))
			Expect(inv.Values("vm1", "Owner")).To(Equal([]string{"Alice"}))

			mutations := dry.Mutations()
			Expect(mutations).To(HaveLen(2))
			Expect(mutations[0].Kind).To(Equal(inventory.MutationRemove))
			Expect(mutations[0].Tag.Name).To(Equal("Alice"))
			Expect(mutations[1].Kind).To(Equal(inventory.MutationCreate))
			Expect(mutations[1].Tag.Name).To(Equal("Bob"))
		})

		It("refuses to write a placeholder outside dry-run", func() {
			placeholder := alice
			placeholder.Placeholder = true

			_, err := r.Reconcile(context.TODO(), vm1, placeholder)
			Expect(errors.Is(err, reconcile.ErrPlaceholderWrite)).To(BeTrue())
			Expect(inv.Mutations()).To(Equal(0))
		})

		It("never treats a placeholder as already present", func() {
			inv.Attach(vm1, alice)
			placeholder := alice
			placeholder.Name = "Dave"
			placeholder.Placeholder = true
			dry := inventory.NewDryRun(inv)
			r := reconcile.New(dry, reconcile.WithDryRun(true))

			outcome, err := r.Reconcile(context.TODO(), vm1, placeholder)
			Expect(err).To(BeNil())
			Expect(outcome).To(Equal(reconcile.Applied))
			Expect(dry.Mutations()[1].Tag.Name).To(Equal("Dave"))
		})
	})
})

type slowTagging struct {
	inventory.Tagging
	delay time.Duration
}

func (s *slowTagging) ListAssignments(ctx context.Context, filter inventory.AssignmentFilter) ([]*inventory.Assignment, error) {
	select {
	case <-time.After(s.delay):
		return s.Tagging.ListAssignments(ctx, filter)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
