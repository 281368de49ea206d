package classify

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/hofbuch/internal/receipt"
)

var testTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type mockIDGenerator struct {
	n int
}

func (m *mockIDGenerator) Generate() string {
	m.n++
	return fmt.Sprintf("id-%d", m.n)
}

type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

func ptr[T any](v T) *T {
	return &v
}

func product(id, name string) *receipt.Product {
	return &receipt.Product{ID: id, Name: name, Amount: 1, Unit: receipt.UnitKilo, CreatedOn: testTime, UpdatedOn: testTime}
}

func ids(products []*receipt.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		db     *receipt.GormDB
		engine *Engine
		hart   *receipt.ProductClass
		butter *receipt.ProductClass
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = receipt.OpenGormDB("sqlite", filepath.Join(GinkgoT().TempDir(), "classify.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		engine = NewEngineWithDeps(db, &mockIDGenerator{}, &mockTimeSource{now: testTime})

		shop := &receipt.Receipt{ID: "shop", Date: ptr("2024-04-01"), CompanyName: ptr("Hofladen"), IsCredit: true,
			Source: receipt.SourceReceiptScanner, FilePaths: []string{}, CreatedOn: testTime, UpdatedOn: testTime}
		app := &receipt.Receipt{ID: "app", Date: ptr("2024-04-02"), CompanyName: ptr("Gasthaus Post"), IsCredit: true,
			Source: receipt.SourceRechnungsApp, FilePaths: []string{}, CreatedOn: testTime, UpdatedOn: testTime}
		expense := &receipt.Receipt{ID: "expense", Date: ptr("2024-04-03"), CompanyName: ptr("Lagerhaus"), IsBio: true,
			Source: receipt.SourceReceiptScanner, FilePaths: []string{}, CreatedOn: testTime, UpdatedOn: testTime}

		Expect(db.CreateReceipt(ctx, shop, []*receipt.Product{
			product("p1", "Bergkäse"), product("p2", "Almkäse"), product("p3", "Butter"),
		})).To(Succeed())
		Expect(db.CreateReceipt(ctx, app, []*receipt.Product{product("p4", "Bergkäse Laib")})).To(Succeed())
		Expect(db.CreateReceipt(ctx, expense, []*receipt.Product{product("p5", "Käsetücher")})).To(Succeed())

		hart, err = engine.CreateClass(ctx, "Hartkäse")
		Expect(err).NotTo(HaveOccurred())
		butter, err = engine.CreateClass(ctx, "Butter")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("UnclassifiedProducts", func() {
		It("should only offer products of credit receipts", func() {
			products, err := engine.UnclassifiedProducts(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(ConsistOf("p1", "p2", "p3", "p4"))
		})

		It("should filter by a rule", func() {
			rule, err := engine.CreateRule(ctx, hart.ID, "^berg")
			Expect(err).NotTo(HaveOccurred())

			products, err := engine.UnclassifiedProducts(ctx, rule.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(ConsistOf("p1", "p4"))
		})

		It("should match nothing for a stored rule that does not compile", func() {
			Expect(db.CreateRule(ctx, &receipt.ClassificationRule{ID: "broken", Regex: "käse(", ProductClassID: hart.ID})).To(Succeed())

			products, err := engine.UnclassifiedProducts(ctx, "broken")
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(BeEmpty())
		})

		It("should report unknown rules", func() {
			_, err := engine.UnclassifiedProducts(ctx, "missing")
			Expect(err).To(MatchError(receipt.ErrNotFound))
		})
	})

	Describe("AssignClass", func() {
		It("should return the number of products updated", func() {
			n, err := engine.AssignClass(ctx, []string{"p1", "p2"}, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			products, err := engine.UnclassifiedProducts(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(ConsistOf("p3", "p4"))
		})

		It("should let the last assignment win", func() {
			_, err := engine.AssignClass(ctx, []string{"p1"}, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			n, err := engine.AssignClass(ctx, []string{"p1"}, butter.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			p, err := db.GetProduct(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ClassName()).To(Equal("Butter"))
		})

		It("should report unknown classes", func() {
			_, err := engine.AssignClass(ctx, []string{"p1"}, "missing")
			Expect(err).To(MatchError(receipt.ErrNotFound))
		})

		It("should accept an empty selection", func() {
			n, err := engine.AssignClass(ctx, nil, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})

	Describe("batch assignment", func() {
		BeforeEach(func() {
			_, err := engine.CreateRule(ctx, hart.ID, "berg")
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.CreateRule(ctx, hart.ID, "käse")
			Expect(err).NotTo(HaveOccurred())
			Expect(db.CreateRule(ctx, &receipt.ClassificationRule{ID: "broken", Regex: "(", ProductClassID: hart.ID})).To(Succeed())
		})

		It("should preview the union of all rule matches once per product", func() {
			preview, err := engine.PreviewBatch(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(preview)).To(ConsistOf("p1", "p2", "p4"))
		})

		It("should not touch the store when previewing", func() {
			_, err := engine.PreviewBatch(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			status, err := engine.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Classified).To(BeZero())
		})

		It("should be idempotent", func() {
			n, err := engine.BatchAssign(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))

			n, err = engine.BatchAssign(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("should leave products classified elsewhere alone", func() {
			_, err := engine.AssignClass(ctx, []string{"p2"}, butter.ID)
			Expect(err).NotTo(HaveOccurred())

			n, err := engine.BatchAssign(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			p, err := db.GetProduct(ctx, "p2")
			Expect(err).NotTo(HaveOccurred())
			Expect(*p.ProductClassID).To(Equal(butter.ID))
		})

		It("should report unknown classes", func() {
			_, err := engine.BatchAssign(ctx, "missing")
			Expect(err).To(MatchError(receipt.ErrNotFound))
		})
	})

	Describe("resets", func() {
		BeforeEach(func() {
			_, err := engine.AssignClass(ctx, []string{"p1", "p2", "p4"}, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.AssignClass(ctx, []string{"p3"}, butter.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reset one class", func() {
			n, err := engine.ResetClass(ctx, butter.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			status, err := engine.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*status).To(Equal(Status{Total: 5, Classified: 3, Unclassified: 2}))
		})

		It("should offer every Käseinnahmen product again after a full reset", func() {
			n, err := engine.ResetAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(4)))

			products, err := engine.UnclassifiedProducts(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(ConsistOf("p1", "p2", "p3", "p4"))

			kaese, err := db.ListProducts(ctx, receipt.ProductFilter{Bucket: receipt.BucketKaeseinnahmen})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(ConsistOf(ids(kaese)))
		})

		It("should report unknown classes", func() {
			_, err := engine.ResetClass(ctx, "missing")
			Expect(err).To(MatchError(receipt.ErrNotFound))
		})
	})

	Describe("TestPattern", func() {
		It("should match against unclassified products", func() {
			products, err := engine.TestPattern(ctx, "LAIB")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(products)).To(Equal([]string{"p4"}))
		})

		It("should reject invalid patterns", func() {
			_, err := engine.TestPattern(ctx, "*käse")
			Expect(err).To(MatchError(ErrInvalidPattern))
		})
	})

	Describe("product classes", func() {
		It("should trim names", func() {
			class, err := engine.CreateClass(ctx, "  Frischkäse ")
			Expect(err).NotTo(HaveOccurred())
			Expect(class.Name).To(Equal("Frischkäse"))
			Expect(class.CreatedOn).To(BeTemporally("==", testTime))
		})

		It("should reject empty names", func() {
			_, err := engine.CreateClass(ctx, "   ")
			Expect(err).To(MatchError(receipt.ErrValidation))
		})

		It("should reject duplicate names", func() {
			_, err := engine.CreateClass(ctx, "Hartkäse ")
			Expect(err).To(MatchError(receipt.ErrDuplicate))
			Expect(err.Error()).To(Equal("product class 'Hartkäse' already exists"))
		})

		It("should allow renaming a class to its own name", func() {
			class, err := engine.RenameClass(ctx, hart.ID, "Hartkäse")
			Expect(err).NotTo(HaveOccurred())
			Expect(class.Name).To(Equal("Hartkäse"))
		})

		It("should refuse renaming to another class's name", func() {
			_, err := engine.RenameClass(ctx, hart.ID, "Butter")
			Expect(err).To(MatchError(receipt.ErrDuplicate))
		})

		It("should rename classes", func() {
			_, err := engine.RenameClass(ctx, butter.ID, "Süßrahmbutter")
			Expect(err).NotTo(HaveOccurred())
			class, err := engine.GetClass(ctx, butter.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(class.Name).To(Equal("Süßrahmbutter"))
		})

		It("should list classes by name with rule counts", func() {
			_, err := engine.CreateRule(ctx, hart.ID, "berg")
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.CreateRule(ctx, hart.ID, "alm")
			Expect(err).NotTo(HaveOccurred())

			classes, err := engine.ListClasses(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(classes).To(HaveLen(2))
			Expect(classes[0].Name).To(Equal("Butter"))
			Expect(classes[0].RuleCount).To(BeZero())
			Expect(classes[1].Name).To(Equal("Hartkäse"))
			Expect(classes[1].RuleCount).To(Equal(int64(2)))
		})

		It("should unclassify products and drop rules on deletion", func() {
			_, err := engine.CreateRule(ctx, hart.ID, "berg")
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.AssignClass(ctx, []string{"p1", "p4"}, hart.ID)
			Expect(err).NotTo(HaveOccurred())

			deletion, err := engine.DeleteClass(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deletion).To(Equal(receipt.ClassDeletion{ProductsCleared: 2, RulesDeleted: 1}))

			rules, err := engine.ListRules(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(BeEmpty())
			products, err := engine.UnclassifiedProducts(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(HaveLen(4))
		})
	})

	Describe("rules", func() {
		It("should not store invalid patterns", func() {
			_, err := engine.CreateRule(ctx, hart.ID, "(unclosed")
			Expect(err).To(MatchError(ErrInvalidPattern))

			rules, err := engine.ListRules(ctx, hart.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(BeEmpty())
		})

		It("should require an existing class", func() {
			_, err := engine.CreateRule(ctx, "missing", "käse")
			Expect(err).To(MatchError(receipt.ErrNotFound))
		})

		It("should update and delete rules", func() {
			rule, err := engine.CreateRule(ctx, hart.ID, "berg")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.UpdateRule(ctx, rule.ID, "[")
			Expect(err).To(MatchError(ErrInvalidPattern))

			updated, err := engine.UpdateRule(ctx, rule.ID, "alm")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Regex).To(Equal("alm"))
			Expect(updated.ProductClassID).To(Equal(hart.ID))

			Expect(engine.DeleteRule(ctx, rule.ID)).To(Succeed())
			Expect(engine.DeleteRule(ctx, rule.ID)).To(MatchError(receipt.ErrNotFound))
		})

		It("should list rules per class", func() {
			_, err := engine.CreateRule(ctx, hart.ID, "berg")
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.CreateRule(ctx, butter.ID, "butter")
			Expect(err).NotTo(HaveOccurred())

			rules, err := engine.ListRules(ctx, butter.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].Regex).To(Equal("butter"))
		})
	})
})
