package snapshot_test

import (
	"context"
	"errors"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/inventory/fake"
	"github.com/kubev2v/vmtag-sync/internal/snapshot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("snapshot builder", func() {
	var inv *fake.Inventory

	BeforeEach(func() {
		inv = fake.New()
	})

	It("folds assignments with a single scan", func() {
		owner := inv.AddCategory("Owner")
		team := inv.AddCategory("Team")
		vm1 := inv.AddEntity("vm1")
		vm2 := inv.AddEntity("vm2")
		inv.Attach(vm1, inv.AddTag(owner, "Alice"))
		inv.Attach(vm1, inv.AddTag(team, "X"))
		inv.Attach(vm2, inv.AddTag(team, "Y"))

		s, err := snapshot.NewBuilder(inv).Build(context.TODO())
		Expect(err).To(BeNil())
		Expect(inv.Calls(fake.MethodListAssignments)).To(Equal(1))
		Expect(s.Categories("vm1")).To(Equal(map[string]string{"Owner": "Alice", "Team": "X"}))
		Expect(s.Categories("vm2")).To(Equal(map[string]string{"Team": "Y"}))
		Expect(s.Entities()).To(Equal([]string{"vm1", "vm2"}))
		Expect(s.CategoryNames()).To(Equal([]string{"Owner", "Team"}))
	})

	It("filters unresolved records instead of failing", func() {
		owner := inv.AddCategory("Owner")
		vm1 := inv.AddEntity("vm1")
		inv.Attach(vm1, inv.AddTag(owner, "Alice"))
		inv.NullRecords = 3

		s, err := snapshot.NewBuilder(inv).Build(context.TODO())
		Expect(err).To(BeNil())
		Expect(s.Skipped).To(Equal(3))
		Expect(s.Len()).To(Equal(1))
	})

	It("marks duplicate assignments as conflicting", func() {
		owner := inv.AddCategory("Owner")
		vm1 := inv.AddEntity("vm1")
		inv.Attach(vm1, inv.AddTag(owner, "Alice"))
		inv.Attach(vm1, inv.AddTag(owner, "Carol"))

		s, err := snapshot.NewBuilder(inv).Build(context.TODO())
		Expect(err).To(BeNil())
		Expect(s.Conflicting("vm1", "Owner")).To(BeTrue())
		Expect(s.Conflicts("vm1", "Owner")).To(ConsistOf("Alice", "Carol"))
	})

	It("fails the whole build on a scan error", func() {
		inv.Fail(fake.MethodListAssignments, errors.New("503 service unavailable"))

		s, err := snapshot.NewBuilder(inv).Build(context.TODO())
		Expect(s).To(BeNil())
		Expect(inventory.IsRemoteUnavailable(err)).To(BeTrue())
	})

	It("returns empty lookups for unknown entities", func() {
		s := snapshot.New()
		_, ok := s.Get("ghost", "Owner")
		Expect(ok).To(BeFalse())
		Expect(s.Categories("ghost")).To(BeEmpty())
	})
})
