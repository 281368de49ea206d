package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ReceiptFilter narrows ListReceipts
type ReceiptFilter struct {
	Credit      *bool
	CompanyName string
	Source      Source
	DateFrom    string // inclusive, YYYY-MM-DD
	DateTo      string // inclusive, YYYY-MM-DD
}

// ProductFilter narrows ListProducts. Products are always joined to their
// receipt, so orphaned products never appear.
type ProductFilter struct {
	ReceiptID      string
	ProductClassID string
	Unclassified   bool
	Credit         *bool
	Bio            *bool
	Bucket         Bucket
	CompanyName    string
	BioCategory    BioCategory
}

// ClassDeletion reports what deleting a product class touched
type ClassDeletion struct {
	ProductsCleared int64 `json:"products_cleared"`
	RulesDeleted    int64 `json:"rules_deleted"`
}

// DB defines the interface for database operations
type DB interface {
	CreateReceipt(ctx context.Context, receipt *Receipt, products []*Product) error
	CreateReceipts(ctx context.Context, receipts []*Receipt) error
	SaveReceipt(ctx context.Context, receipt *Receipt) error
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]*Receipt, error)
	DeleteReceipt(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, product *Product) error
	SaveProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error)
	DeleteProduct(ctx context.Context, id string) error
	FindOrphanedProducts(ctx context.Context) ([]*Product, error)
	DeleteOrphanedProducts(ctx context.Context) (int64, error)

	// Close closes the database connection
	Close() error
}

// GormDB implements DB and the classification store on top of gorm
type GormDB struct {
	db *gorm.DB
}

// OpenGormDB connects to a sqlite file or a postgres DSN and migrates the schema
func OpenGormDB(driver, dsn string) (*GormDB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Receipt{}, &ProductClass{}, &Product{}, &ClassificationRule{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &GormDB{db: db}, nil
}

// sqliteDSN enables foreign key enforcement on every pooled connection
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

// CreateReceipt inserts a receipt and its products in one transaction
func (g *GormDB) CreateReceipt(ctx context.Context, receipt *Receipt, products []*Product) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(receipt).Error; err != nil {
			return fmt.Errorf("inserting receipt: %w", err)
		}
		for _, p := range products {
			p.ReceiptID = receipt.ID
			if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
				return fmt.Errorf("inserting product: %w", err)
			}
		}
		return nil
	})
}

// CreateReceipts inserts receipts without products, all or none
func (g *GormDB) CreateReceipts(ctx context.Context, receipts []*Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range receipts {
			if err := tx.Omit(clause.Associations).Create(r).Error; err != nil {
				return fmt.Errorf("inserting receipt %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// SaveReceipt updates every column of an existing receipt
func (g *GormDB) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Save(receipt).Error
}

// GetReceipt retrieves a receipt by ID
func (g *GormDB) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	var receipt Receipt
	if err := g.db.WithContext(ctx).First(&receipt, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "receipt", id)
	}
	return &receipt, nil
}

// ListReceipts returns receipts ordered by date, newest first
func (g *GormDB) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]*Receipt, error) {
	q := g.db.WithContext(ctx).Model(&Receipt{})
	if filter.Credit != nil {
		q = q.Where("is_credit = ?", *filter.Credit)
	}
	if filter.CompanyName != "" {
		q = q.Where("company_name = ?", filter.CompanyName)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.DateFrom != "" {
		q = q.Where("date >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q = q.Where("date <= ?", filter.DateTo)
	}

	receipts := make([]*Receipt, 0)
	if err := q.Order("date DESC").Order("created_on DESC").Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt. Its products are removed by the foreign key cascade.
func (g *GormDB) DeleteReceipt(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Delete(&Receipt{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateProduct inserts a single product
func (g *GormDB) CreateProduct(ctx context.Context, product *Product) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Create(product).Error
}

// SaveProduct updates every column of an existing product
func (g *GormDB) SaveProduct(ctx context.Context, product *Product) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Save(product).Error
}

// GetProduct retrieves a product with its receipt and class
func (g *GormDB) GetProduct(ctx context.Context, id string) (*Product, error) {
	var product Product
	err := g.db.WithContext(ctx).
		Preload("Receipt").
		Preload("ProductClass").
		First(&product, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &product, nil
}

// ListProducts returns products joined to their receipts, with receipt and
// class preloaded
func (g *GormDB) ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	q := g.db.WithContext(ctx).
		Model(&Product{}).
		Joins("JOIN receipts ON receipts.id = products.receipt_id").
		Preload("Receipt").
		Preload("ProductClass")

	if filter.ReceiptID != "" {
		q = q.Where("products.receipt_id = ?", filter.ReceiptID)
	}
	if filter.ProductClassID != "" {
		q = q.Where("products.product_class_reference = ?", filter.ProductClassID)
	}
	if filter.Unclassified {
		q = q.Where("products.product_class_reference IS NULL")
	}
	if filter.Credit != nil {
		q = q.Where("receipts.is_credit = ?", *filter.Credit)
	}
	if filter.Bio != nil {
		q = q.Where("products.is_bio = ?", *filter.Bio)
	}
	switch filter.Bucket {
	case BucketBiokontrolle:
		q = q.Where("receipts.is_credit = ? AND products.is_bio = ?", false, true)
	case BucketKaeseinnahmen:
		q = q.Where("receipts.is_credit = ? AND (receipts.company_name IN ? OR receipts.source = ?)",
			true, KaeseinnahmenCompanies, SourceRechnungsApp)
	}
	if filter.CompanyName != "" {
		q = q.Where("receipts.company_name = ?", filter.CompanyName)
	}
	if filter.BioCategory != "" {
		q = q.Where("products.bio_category = ?", filter.BioCategory)
	}

	products := make([]*Product, 0)
	err := q.Order("receipts.date").Order("products.created_on").Order("products.id").Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// DeleteProduct removes a product
func (g *GormDB) DeleteProduct(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Delete(&Product{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

const orphanCondition = "NOT EXISTS (SELECT 1 FROM receipts WHERE receipts.id = products.receipt_id)"

// FindOrphanedProducts returns products whose receipt no longer exists
func (g *GormDB) FindOrphanedProducts(ctx context.Context) ([]*Product, error) {
	products := make([]*Product, 0)
	if err := g.db.WithContext(ctx).Where(orphanCondition).Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// DeleteOrphanedProducts removes products whose receipt no longer exists
func (g *GormDB) DeleteOrphanedProducts(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Where(orphanCondition).Delete(&Product{})
	return res.RowsAffected, res.Error
}

// AssignProductClass points every listed product at the class in one statement
func (g *GormDB) AssignProductClass(ctx context.Context, productIDs []string, classID string) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	res := g.db.WithContext(ctx).
		Model(&Product{}).
		Where("id IN ?", productIDs).
		Update("product_class_reference", classID)
	return res.RowsAffected, res.Error
}

// ClearProductClass unclassifies products of one class, or of every class when
// classID is empty
func (g *GormDB) ClearProductClass(ctx context.Context, classID string) (int64, error) {
	q := g.db.WithContext(ctx).Model(&Product{})
	if classID != "" {
		q = q.Where("product_class_reference = ?", classID)
	} else {
		q = q.Where("product_class_reference IS NOT NULL")
	}
	res := q.Update("product_class_reference", gorm.Expr("NULL"))
	return res.RowsAffected, res.Error
}

// CountProducts returns the number of products and how many are classified
func (g *GormDB) CountProducts(ctx context.Context) (total, classified int64, err error) {
	db := g.db.WithContext(ctx)
	if err = db.Model(&Product{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = db.Model(&Product{}).Where("product_class_reference IS NOT NULL").Count(&classified).Error; err != nil {
		return 0, 0, err
	}
	return total, classified, nil
}

func duplicateClass(err error, class *ProductClass) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("product class '%s' %w", class.Name, ErrDuplicate)
	}
	return err
}

// CreateProductClass inserts a product class. A taken name yields ErrDuplicate.
func (g *GormDB) CreateProductClass(ctx context.Context, class *ProductClass) error {
	return duplicateClass(g.db.WithContext(ctx).Create(class).Error, class)
}

// SaveProductClass updates an existing product class
func (g *GormDB) SaveProductClass(ctx context.Context, class *ProductClass) error {
	return duplicateClass(g.db.WithContext(ctx).Save(class).Error, class)
}

// GetProductClass retrieves a product class by ID
func (g *GormDB) GetProductClass(ctx context.Context, id string) (*ProductClass, error) {
	var class ProductClass
	if err := g.db.WithContext(ctx).First(&class, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "product class", id)
	}
	return &class, nil
}

// FindProductClassByName retrieves a product class by its exact name
func (g *GormDB) FindProductClassByName(ctx context.Context, name string) (*ProductClass, error) {
	var class ProductClass
	if err := g.db.WithContext(ctx).First(&class, "name = ?", name).Error; err != nil {
		return nil, notFound(err, "product class", name)
	}
	return &class, nil
}

// ListProductClasses returns all product classes ordered by name
func (g *GormDB) ListProductClasses(ctx context.Context) ([]*ProductClass, error) {
	classes := make([]*ProductClass, 0)
	if err := g.db.WithContext(ctx).Order("name").Find(&classes).Error; err != nil {
		return nil, err
	}
	return classes, nil
}

// CountRulesByClass returns the number of rules per product class ID
func (g *GormDB) CountRulesByClass(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ProductClassID string
		Count          int64
	}
	err := g.db.WithContext(ctx).
		Model(&ClassificationRule{}).
		Select("product_class_id, COUNT(*) AS count").
		Group("product_class_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ProductClassID] = row.Count
	}
	return counts, nil
}

// DeleteProductClass unclassifies the class's products, removes its rules and
// the class itself in one transaction
func (g *GormDB) DeleteProductClass(ctx context.Context, id string) (ClassDeletion, error) {
	var deletion ClassDeletion
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Product{}).
			Where("product_class_reference = ?", id).
			Update("product_class_reference", gorm.Expr("NULL"))
		if res.Error != nil {
			return fmt.Errorf("clearing products: %w", res.Error)
		}
		deletion.ProductsCleared = res.RowsAffected

		res = tx.Where("product_class_id = ?", id).Delete(&ClassificationRule{})
		if res.Error != nil {
			return fmt.Errorf("deleting rules: %w", res.Error)
		}
		deletion.RulesDeleted = res.RowsAffected

		res = tx.Delete(&ProductClass{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("deleting product class: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("product class %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return ClassDeletion{}, err
	}
	return deletion, nil
}

// CreateRule inserts a classification rule
func (g *GormDB) CreateRule(ctx context.Context, rule *ClassificationRule) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Create(rule).Error
}

// SaveRule updates an existing classification rule
func (g *GormDB) SaveRule(ctx context.Context, rule *ClassificationRule) error {
	return g.db.WithContext(ctx).Omit(clause.Associations).Save(rule).Error
}

// GetRule retrieves a classification rule by ID
func (g *GormDB) GetRule(ctx context.Context, id string) (*ClassificationRule, error) {
	var rule ClassificationRule
	if err := g.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

// ListRules returns the rules of a class, or all rules when classID is empty
func (g *GormDB) ListRules(ctx context.Context, classID string) ([]*ClassificationRule, error) {
	q := g.db.WithContext(ctx).Model(&ClassificationRule{})
	if classID != "" {
		q = q.Where("product_class_id = ?", classID)
	}
	rules := make([]*ClassificationRule, 0)
	if err := q.Order("created_on").Order("id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule removes a classification rule
func (g *GormDB) DeleteRule(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Delete(&ClassificationRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
