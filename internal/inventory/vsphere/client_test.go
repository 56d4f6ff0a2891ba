package vsphere_test

import (
	"context"

	"github.com/kubev2v/vmtag-sync/internal/hierarchy"
	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/kubev2v/vmtag-sync/internal/inventory/vsphere"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vapi/rest"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25"

	_ "github.com/vmware/govmomi/vapi/simulator"
)

func newClient(ctx context.Context, vc *vim25.Client) (*vsphere.Client, *tags.Manager) {
	rc := rest.NewClient(vc)
	Expect(rc.Login(ctx, simulator.DefaultLogin)).To(Succeed())
	return vsphere.New(vc, rc), tags.NewManager(rc)
}

func entityNamed(entities []inventory.Entity, name string) inventory.Entity {
	for _, e := range entities {
		if e.Name == name {
			return e
		}
	}
	Fail("entity " + name + " not found")
	return inventory.Entity{}
}

var _ = Describe("vsphere client", func() {
	Context("connection", func() {
		It("adds the sdk path", func() {
			u, err := vsphere.ParseURL(vsphere.Credentials{URL: "https://vcenter.example.com", Username: "admin", Password: "secret"})
			Expect(err).To(BeNil())
			Expect(u.Path).To(Equal("/sdk"))
			Expect(u.User.Username()).To(Equal("admin"))
		})

		It("rejects a relative url", func() {
			_, err := vsphere.ParseURL(vsphere.Credentials{URL: "vcenter"})
			Expect(err).NotTo(BeNil())
		})

		It("logs into both endpoints", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				password, _ := simulator.DefaultLogin.Password()
				client, err := vsphere.Connect(ctx, vsphere.Credentials{
					URL:      vc.URL().String(),
					Username: simulator.DefaultLogin.Username(),
					Password: password,
					Insecure: true,
				})
				Expect(err).To(BeNil())

				cat, err := client.GetCategory(ctx, "Owner")
				Expect(err).To(BeNil())
				Expect(cat).To(BeNil())
				Expect(client.Logout(ctx)).To(Succeed())
			})
		})
	})

	Context("entities", func() {
		It("lists the virtual machines", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, _ := newClient(ctx, vc)

				entities, err := client.ListEntities(ctx)
				Expect(err).To(BeNil())
				var names []string
				for _, e := range entities {
					Expect(e.Ref.Type).To(Equal("VirtualMachine"))
					names = append(names, e.Name)
				}
				Expect(names).To(ContainElements("DC0_H0_VM0", "DC0_C0_RP0_VM0"))
			})
		})

		It("reports a dead session as unavailable", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, _ := newClient(ctx, vc)
				cancelled, cancel := context.WithCancel(ctx)
				cancel()

				_, err := client.ListEntities(cancelled)
				Expect(inventory.IsRemoteUnavailable(err)).To(BeTrue())
			})
		})
	})

	Context("tagging", func() {
		It("creates, lists and removes assignments", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, tm := newClient(ctx, vc)
				_, err := tm.CreateCategory(ctx, &tags.Category{Name: "Owner", Cardinality: "MULTIPLE"})
				Expect(err).To(BeNil())

				cat, err := client.GetCategory(ctx, "Owner")
				Expect(err).To(BeNil())
				Expect(cat).NotTo(BeNil())

				missing, err := client.GetTag(ctx, *cat, "Alice")
				Expect(err).To(BeNil())
				Expect(missing).To(BeNil())

				alice, err := client.CreateTag(ctx, *cat, "Alice")
				Expect(err).To(BeNil())
				found, err := client.GetTag(ctx, *cat, "Alice")
				Expect(err).To(BeNil())
				Expect(found.ID).To(Equal(alice.ID))
				Expect(found.CategoryName).To(Equal("Owner"))

				entities, err := client.ListEntities(ctx)
				Expect(err).To(BeNil())
				vm := entityNamed(entities, "DC0_H0_VM0")
				Expect(client.CreateAssignment(ctx, vm, *alice)).To(Succeed())

				all, err := client.ListAssignments(ctx, inventory.AssignmentFilter{})
				Expect(err).To(BeNil())
				Expect(all).To(HaveLen(1))
				Expect(all[0].Valid()).To(BeTrue())
				Expect(all[0].Entity.Name).To(Equal("DC0_H0_VM0"))
				Expect(all[0].Tag.String()).To(Equal("Owner=Alice"))

				own, err := client.ListAssignments(ctx, inventory.AssignmentFilter{Entity: &vm, CategoryID: cat.ID})
				Expect(err).To(BeNil())
				Expect(own).To(HaveLen(1))
				Expect(own[0].Tag.ID).To(Equal(alice.ID))

				other, err := client.ListAssignments(ctx, inventory.AssignmentFilter{Entity: &vm, CategoryID: "urn:other"})
				Expect(err).To(BeNil())
				Expect(other).To(BeEmpty())

				Expect(client.RemoveAssignment(ctx, *own[0])).To(Succeed())
				all, err = client.ListAssignments(ctx, inventory.AssignmentFilter{})
				Expect(err).To(BeNil())
				Expect(all).To(BeEmpty())
			})
		})

		It("leaves objects that are not virtual machines unresolved", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, tm := newClient(ctx, vc)
				_, err := tm.CreateCategory(ctx, &tags.Category{Name: "Site", Cardinality: "MULTIPLE"})
				Expect(err).To(BeNil())
				cat, err := client.GetCategory(ctx, "Site")
				Expect(err).To(BeNil())
				paris, err := client.CreateTag(ctx, *cat, "Paris")
				Expect(err).To(BeNil())

				entities, err := client.ListEntities(ctx)
				Expect(err).To(BeNil())
				host, err := client.ParentOf(ctx, entityNamed(entities, "DC0_H0_VM0").Node())
				Expect(err).To(BeNil())
				Expect(tm.AttachTag(ctx, paris.ID, host.Ref)).To(Succeed())

				all, err := client.ListAssignments(ctx, inventory.AssignmentFilter{})
				Expect(err).To(BeNil())
				Expect(all).To(HaveLen(1))
				Expect(all[0].Valid()).To(BeFalse())
			})
		})
	})

	Context("hierarchy", func() {
		It("resolves datacenter and cluster", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, _ := newClient(ctx, vc)
				entities, err := client.ListEntities(ctx)
				Expect(err).To(BeNil())
				resolver := hierarchy.NewResolver(client)

				loc, err := resolver.Locate(ctx, entityNamed(entities, "DC0_C0_RP0_VM0"))
				Expect(err).To(BeNil())
				Expect(loc).To(Equal(hierarchy.Location{Datacenter: "DC0", Cluster: "DC0_C0"}))

				loc, err = resolver.Locate(ctx, entityNamed(entities, "DC0_H0_VM0"))
				Expect(err).To(BeNil())
				Expect(loc).To(Equal(hierarchy.Location{Datacenter: "DC0"}))
			})
		})

		It("walks a virtual machine through its host", func() {
			simulator.Test(func(ctx context.Context, vc *vim25.Client) {
				client, _ := newClient(ctx, vc)
				entities, err := client.ListEntities(ctx)
				Expect(err).To(BeNil())

				host, err := client.ParentOf(ctx, entityNamed(entities, "DC0_C0_RP0_VM0").Node())
				Expect(err).To(BeNil())
				Expect(host.Kind).To(Equal(inventory.KindHost))

				cluster, err := client.ParentOf(ctx, *host)
				Expect(err).To(BeNil())
				Expect(cluster.Kind).To(Equal(inventory.KindCluster))
				Expect(cluster.Name).To(Equal("DC0_C0"))
			})
		})
	})
})
