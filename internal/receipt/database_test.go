package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestDB() (*GormDB, string) {
	path := filepath.Join(GinkgoT().TempDir(), "test.db")
	db, err := OpenGormDB("sqlite", path)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(db.Close)
	return db, path
}

func testReceipt(id, company string, isCredit bool) *Receipt {
	return &Receipt{
		ID:          id,
		Date:        stringPtr("2024-03-01"),
		CompanyName: stringPtr(company),
		IsCredit:    isCredit,
		Source:      SourceReceiptScanner,
		FilePaths:   []string{},
		CreatedOn:   testTime,
		UpdatedOn:   testTime,
	}
}

func testProduct(id, name string, isBio bool) *Product {
	return &Product{
		ID:        id,
		Name:      name,
		IsBio:     isBio,
		Amount:    1,
		Unit:      UnitKilo,
		CreatedOn: testTime,
		UpdatedOn: testTime,
	}
}

func productIDs(products []*Product) []string {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}

var _ = Describe("GormDB", func() {
	var (
		ctx context.Context
		db  *GormDB
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, _ = newTestDB()
	})

	Describe("OpenGormDB", func() {
		It("should reject unknown drivers", func() {
			_, err := OpenGormDB("mysql", "dsn")
			Expect(err).To(MatchError(ContainSubstring("unsupported database driver")))
		})
	})

	Describe("receipts", func() {
		When("a receipt is created with products", func() {
			BeforeEach(func() {
				r := testReceipt("r1", "Hofladen", true)
				r.TotalGrossAmount = floatPtr(110)
				r.FilePaths = []string{"a.jpg", "b.pdf"}
				Expect(db.CreateReceipt(ctx, r, []*Product{testProduct("p1", "Bergkäse", false)})).To(Succeed())
			})

			It("should store the receipt fields", func() {
				r, err := db.GetReceipt(ctx, "r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(*r.CompanyName).To(Equal("Hofladen"))
				Expect(*r.TotalGrossAmount).To(Equal(110.0))
				Expect(r.TotalNetAmount).To(BeNil())
				Expect(r.FilePaths).To(Equal([]string{"a.jpg", "b.pdf"}))
			})

			It("should link the products to the receipt", func() {
				products, err := db.ListProducts(ctx, ProductFilter{ReceiptID: "r1"})
				Expect(err).NotTo(HaveOccurred())
				Expect(productIDs(products)).To(Equal([]string{"p1"}))
				Expect(products[0].Receipt).NotTo(BeNil())
				Expect(products[0].Receipt.ID).To(Equal("r1"))
			})

			It("should delete the products with the receipt", func() {
				Expect(db.DeleteReceipt(ctx, "r1")).To(Succeed())
				_, err := db.GetProduct(ctx, "p1")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		It("should report missing receipts", func() {
			_, err := db.GetReceipt(ctx, "missing")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(db.DeleteReceipt(ctx, "missing")).To(MatchError(ErrNotFound))
		})

		It("should roll back the receipt when a product fails", func() {
			p := testProduct("p1", "Käse", false)
			p.ProductClassID = stringPtr("no-such-class")
			err := db.CreateReceipt(ctx, testReceipt("r1", "Hofladen", true), []*Product{p})
			Expect(err).To(HaveOccurred())
			_, err = db.GetReceipt(ctx, "r1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		Describe("ListReceipts", func() {
			BeforeEach(func() {
				older := testReceipt("old", "Lagerhaus", false)
				older.Date = stringPtr("2023-12-01")
				newer := testReceipt("new", "Hofladen", true)
				newer.Date = stringPtr("2024-02-01")
				Expect(db.CreateReceipt(ctx, older, nil)).To(Succeed())
				Expect(db.CreateReceipt(ctx, newer, nil)).To(Succeed())
			})

			It("should order by date, newest first", func() {
				receipts, err := db.ListReceipts(ctx, ReceiptFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(2))
				Expect(receipts[0].ID).To(Equal("new"))
			})

			It("should filter by credit flag", func() {
				credit := false
				receipts, err := db.ListReceipts(ctx, ReceiptFilter{Credit: &credit})
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].ID).To(Equal("old"))
			})

			It("should filter by date range", func() {
				receipts, err := db.ListReceipts(ctx, ReceiptFilter{DateFrom: "2024-01-01", DateTo: "2024-12-31"})
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].ID).To(Equal("new"))
			})
		})
	})

	Describe("products", func() {
		BeforeEach(func() {
			bioExpense := testReceipt("expense", "Lagerhaus", false)
			bioExpense.IsBio = true
			shop := testReceipt("shop", CompanyHofladen, true)
			dairy := testReceipt("dairy", "SalzburgMilch", true)
			app := testReceipt("app", "Gasthaus Post", true)
			app.Source = SourceRechnungsApp

			feed := testProduct("feed", "Bio Futter", true)
			feed.BioCategory = bioCategoryPtr(BioCategoryLivestock)
			Expect(db.CreateReceipt(ctx, bioExpense, []*Product{feed, testProduct("salt", "Salz", false)})).To(Succeed())
			Expect(db.CreateReceipt(ctx, shop, []*Product{testProduct("cheese", "Bergkäse", true)})).To(Succeed())
			Expect(db.CreateReceipt(ctx, dairy, []*Product{testProduct("milk", "Milch", false)})).To(Succeed())
			Expect(db.CreateReceipt(ctx, app, []*Product{testProduct("wheel", "Käselaib", false)})).To(Succeed())
		})

		It("should select the Biokontrolle bucket", func() {
			products, err := db.ListProducts(ctx, ProductFilter{Bucket: BucketBiokontrolle})
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(ConsistOf("feed"))
		})

		It("should select the Käseinnahmen bucket", func() {
			products, err := db.ListProducts(ctx, ProductFilter{Bucket: BucketKaeseinnahmen})
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(ConsistOf("cheese", "wheel"))
		})

		It("should agree with the bucket predicates", func() {
			all, err := db.ListProducts(ctx, ProductFilter{})
			Expect(err).NotTo(HaveOccurred())
			bio, err := db.ListProducts(ctx, ProductFilter{Bucket: BucketBiokontrolle})
			Expect(err).NotTo(HaveOccurred())
			kaese, err := db.ListProducts(ctx, ProductFilter{Bucket: BucketKaeseinnahmen})
			Expect(err).NotTo(HaveOccurred())

			var wantBio, wantKaese []string
			for _, p := range all {
				if IsBiokontrolle(p, p.Receipt) {
					wantBio = append(wantBio, p.ID)
				}
				if IsKaeseinnahme(p.Receipt) {
					wantKaese = append(wantKaese, p.ID)
				}
			}
			Expect(productIDs(bio)).To(ConsistOf(wantBio))
			Expect(productIDs(kaese)).To(ConsistOf(wantKaese))
		})

		It("should filter by bio category and company", func() {
			products, err := db.ListProducts(ctx, ProductFilter{Bucket: BucketBiokontrolle, BioCategory: BioCategoryLivestock, CompanyName: "Lagerhaus"})
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(ConsistOf("feed"))

			products, err = db.ListProducts(ctx, ProductFilter{Bucket: BucketBiokontrolle, BioCategory: BioCategoryCrops})
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(BeEmpty())
		})

		It("should select unclassified products of credit receipts", func() {
			credit := true
			products, err := db.ListProducts(ctx, ProductFilter{Unclassified: true, Credit: &credit})
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(ConsistOf("cheese", "milk", "wheel"))
		})

		Describe("classification updates", func() {
			var class *ProductClass

			BeforeEach(func() {
				class = &ProductClass{ID: "c1", Name: "Hartkäse", CreatedOn: testTime, UpdatedOn: testTime}
				Expect(db.CreateProductClass(ctx, class)).To(Succeed())
			})

			It("should assign a class in one statement", func() {
				n, err := db.AssignProductClass(ctx, []string{"cheese", "wheel"}, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(int64(2)))

				products, err := db.ListProducts(ctx, ProductFilter{ProductClassID: "c1"})
				Expect(err).NotTo(HaveOccurred())
				Expect(productIDs(products)).To(ConsistOf("cheese", "wheel"))
				Expect(products[0].ClassName()).To(Equal("Hartkäse"))
			})

			It("should do nothing for an empty id set", func() {
				n, err := db.AssignProductClass(ctx, nil, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
			})

			It("should count only existing products", func() {
				n, err := db.AssignProductClass(ctx, []string{"cheese", "ghost"}, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(int64(1)))
			})

			It("should clear one class or all classes", func() {
				other := &ProductClass{ID: "c2", Name: "Milch", CreatedOn: testTime, UpdatedOn: testTime}
				Expect(db.CreateProductClass(ctx, other)).To(Succeed())
				_, err := db.AssignProductClass(ctx, []string{"cheese", "wheel"}, "c1")
				Expect(err).NotTo(HaveOccurred())
				_, err = db.AssignProductClass(ctx, []string{"milk"}, "c2")
				Expect(err).NotTo(HaveOccurred())

				n, err := db.ClearProductClass(ctx, "c2")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(int64(1)))

				n, err = db.ClearProductClass(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(int64(2)))

				total, classified, err := db.CountProducts(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(int64(5)))
				Expect(classified).To(BeZero())
			})

			It("should clear products and rules when the class is deleted", func() {
				_, err := db.AssignProductClass(ctx, []string{"cheese"}, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(db.CreateRule(ctx, &ClassificationRule{ID: "rule1", Regex: "käse", ProductClassID: "c1"})).To(Succeed())
				Expect(db.CreateRule(ctx, &ClassificationRule{ID: "rule2", Regex: "laib", ProductClassID: "c1"})).To(Succeed())

				deletion, err := db.DeleteProductClass(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(deletion).To(Equal(ClassDeletion{ProductsCleared: 1, RulesDeleted: 2}))

				p, err := db.GetProduct(ctx, "cheese")
				Expect(err).NotTo(HaveOccurred())
				Expect(p.ProductClassID).To(BeNil())
				rules, err := db.ListRules(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(rules).To(BeEmpty())
			})

			It("should report deleting a missing class", func() {
				_, err := db.DeleteProductClass(ctx, "missing")
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("should report a taken name as a duplicate", func() {
				dup := &ProductClass{ID: "c3", Name: "Hartkäse", CreatedOn: testTime, UpdatedOn: testTime}
				err := db.CreateProductClass(ctx, dup)
				Expect(err).To(MatchError(ErrDuplicate))
				Expect(err).To(MatchError("product class 'Hartkäse' already exists"))
			})

			It("should report renaming to a taken name as a duplicate", func() {
				other := &ProductClass{ID: "c2", Name: "Milch", CreatedOn: testTime, UpdatedOn: testTime}
				Expect(db.CreateProductClass(ctx, other)).To(Succeed())
				other.Name = "Hartkäse"
				Expect(db.SaveProductClass(ctx, other)).To(MatchError(ErrDuplicate))
			})

			It("should count rules per class", func() {
				Expect(db.CreateRule(ctx, &ClassificationRule{ID: "rule1", Regex: "käse", ProductClassID: "c1"})).To(Succeed())
				counts, err := db.CountRulesByClass(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(counts).To(Equal(map[string]int64{"c1": 1}))
			})
		})
	})

	Describe("orphaned products", func() {
		var path string

		BeforeEach(func() {
			db, path = newTestDB()
			Expect(db.CreateReceipt(ctx, testReceipt("r1", "Hofladen", true), []*Product{testProduct("kept", "Käse", false)})).To(Succeed())

			// a connection without foreign key enforcement, as older databases had
			raw, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
			Expect(err).NotTo(HaveOccurred())
			orphan := testProduct("orphan", "Verwaist", false)
			orphan.ReceiptID = "deleted-receipt"
			Expect(raw.Create(orphan).Error).To(Succeed())
			sqlDB, err := raw.DB()
			Expect(err).NotTo(HaveOccurred())
			Expect(sqlDB.Close()).To(Succeed())
		})

		It("should find them", func() {
			products, err := db.FindOrphanedProducts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(Equal([]string{"orphan"}))
		})

		It("should exclude them from product listings", func() {
			products, err := db.ListProducts(ctx, ProductFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(productIDs(products)).To(Equal([]string{"kept"}))
		})

		It("should delete only them", func() {
			n, err := db.DeleteOrphanedProducts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			total, _, err := db.CountProducts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(1)))
		})
	})
})

func bioCategoryPtr(c BioCategory) *BioCategory {
	return &c
}
