package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/hofbuch/internal/scanning"
)

// IDGenerator generates unique IDs for stored entities
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DefaultIDGenerator returns the UUID based generator used by NewService
func DefaultIDGenerator() IDGenerator {
	return &defaultIDGenerator{}
}

// DefaultTimeSource returns the wall clock used by NewService
func DefaultTimeSource() TimeSource {
	return &defaultTimeSource{}
}

// Upload is a file received from a client
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Service handles receipt and product operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, DefaultIDGenerator(), DefaultTimeSource())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename removes special characters and truncates phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// SaveFiles stores uploads and returns their storage paths in order. Already
// stored files are removed again when a later upload fails.
func (s *Service) SaveFiles(uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one file is required: %w", ErrValidation)
	}

	paths := make([]string, 0, len(uploads))
	for _, u := range uploads {
		name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(u.Filename))
		path, err := s.storage.Save(name, u.Data)
		if err != nil {
			s.deleteFiles(paths)
			return nil, fmt.Errorf("saving file: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Service) deleteFiles(paths []string) {
	for _, p := range paths {
		if err := s.storage.Delete(p); err != nil {
			slog.Warn("Failed to delete file", "filename", p, "error", err)
		}
	}
}

// Extract runs the extraction service over stored files and returns an
// unsaved draft for review
func (s *Service) Extract(ctx context.Context, paths []string, variant scanning.PromptVariant, customPrompt string) (*Draft, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one file is required: %w", ErrValidation)
	}

	files := make([]scanning.File, 0, len(paths))
	for _, p := range paths {
		data, err := s.storage.Get(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, scanning.File{Name: p, Data: data, ContentType: scanning.ContentTypeFor(p)})
	}

	data, err := s.scanner.ScanReceipt(ctx, scanning.ScanRequest{
		Files:        files,
		Variant:      variant,
		CustomPrompt: customPrompt,
	})
	if err != nil {
		slog.Error("Failed to scan receipt", "files", paths, "variant", variant, "error", err)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	draft := draftFromScan(data, paths)
	return draft, nil
}

// ProcessUpload stores uploads and extracts a draft from them. The stored
// files are removed when extraction fails.
func (s *Service) ProcessUpload(ctx context.Context, uploads []Upload, variant scanning.PromptVariant, customPrompt string) (*Draft, error) {
	paths, err := s.SaveFiles(uploads)
	if err != nil {
		return nil, err
	}
	draft, err := s.Extract(ctx, paths, variant, customPrompt)
	if err != nil {
		s.deleteFiles(paths)
		return nil, err
	}
	return draft, nil
}

func draftFromScan(data *scanning.ReceiptData, paths []string) *Draft {
	r := Receipt{
		ReceiptNumber:    data.ReceiptNumber,
		Date:             data.Date,
		TotalGrossAmount: data.TotalGrossAmount,
		TotalNetAmount:   data.TotalNetAmount,
		VATAmount:        data.VATAmount,
		CompanyName:      data.CompanyName,
		Description:      data.Description,
		Source:           SourceReceiptScanner,
		FilePaths:        paths,
	}
	if data.IsCredit != nil {
		r.IsCredit = *data.IsCredit
	}

	products := make([]*Product, 0, len(data.Products))
	for _, pd := range data.Products {
		name := strings.TrimSpace(pd.Name)
		if name == "" {
			continue
		}
		p := &Product{Name: name, Unit: UnitPiece, Price: pd.Price}
		if pd.Amount != nil {
			p.Amount = *pd.Amount
		}
		if pd.Unit != nil && Unit(strings.ToUpper(*pd.Unit)).Valid() {
			p.Unit = Unit(strings.ToUpper(*pd.Unit))
		}
		if pd.IsBio != nil {
			p.IsBio = *pd.IsBio
		}
		products = append(products, p)
	}

	return &Draft{
		Receipt:            r,
		Products:           products,
		ShouldHaveProducts: ShouldHaveProducts(&r),
	}
}

func validateReceipt(r *Receipt) error {
	if r.Source == "" {
		r.Source = SourceReceiptScanner
	}
	if !r.Source.Valid() {
		return fmt.Errorf("unknown source %q: %w", r.Source, ErrValidation)
	}
	if r.Date != nil {
		if _, err := time.Parse("2006-01-02", *r.Date); err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD: %w", ErrValidation)
		}
	}
	if r.FilePaths == nil {
		r.FilePaths = []string{}
	}
	return nil
}

func validateProduct(p *Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("product name cannot be empty: %w", ErrValidation)
	}
	if p.Amount < 0 {
		return fmt.Errorf("product amount cannot be negative: %w", ErrValidation)
	}
	if p.Unit == "" {
		p.Unit = UnitPiece
	}
	if !p.Unit.Valid() {
		return fmt.Errorf("unknown unit %q: %w", p.Unit, ErrValidation)
	}
	if !p.IsBio {
		p.BioCategory = nil
	}
	if p.BioCategory != nil && !p.BioCategory.Valid() {
		return fmt.Errorf("unknown bio category %q: %w", *p.BioCategory, ErrValidation)
	}
	return nil
}

// CreateReceipt persists a reviewed receipt together with its products
func (s *Service) CreateReceipt(ctx context.Context, r *Receipt, products []*Product) (*Receipt, error) {
	if err := validateReceipt(r); err != nil {
		return nil, err
	}
	if len(products) > 0 && !ShouldHaveProducts(r) {
		return nil, ErrProductsNotAllowed
	}

	now := s.timeSource.Now()
	r.ID = s.idGenerator.Generate()
	r.CreatedOn = now
	r.UpdatedOn = now

	for _, p := range products {
		if err := validateProduct(p); err != nil {
			return nil, err
		}
		p.ID = s.idGenerator.Generate()
		p.ProductClassID = nil
		p.CreatedOn = now
		p.UpdatedOn = now
	}

	if err := s.db.CreateReceipt(ctx, r, products); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return r, nil
}

// UpdateReceipt overwrites the editable fields of a stored receipt. Stored
// files are kept when r carries none.
func (s *Service) UpdateReceipt(ctx context.Context, r *Receipt) (*Receipt, error) {
	existing, err := s.db.GetReceipt(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if len(r.FilePaths) == 0 {
		r.FilePaths = existing.FilePaths
	}
	if err := validateReceipt(r); err != nil {
		return nil, err
	}
	r.CreatedOn = existing.CreatedOn
	r.UpdatedOn = s.timeSource.Now()

	if err := s.db.SaveReceipt(ctx, r); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return r, nil
}

// GetReceipt retrieves a receipt with its products
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, []*Product, error) {
	r, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}
	products, err := s.db.ListProducts(ctx, ProductFilter{ReceiptID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("listing products: %w", err)
	}
	return r, products, nil
}

// ListReceipts returns receipts matching filter
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt, its products and its files
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	r, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.db.DeleteReceipt(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	// file removal failures leave the database consistent, so they only warn
	s.deleteFiles(r.FilePaths)
	return nil
}

// GetReceiptFile returns the index-th stored file of a receipt
func (s *Service) GetReceiptFile(ctx context.Context, id string, index int) ([]byte, string, error) {
	r, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if index < 0 || index >= len(r.FilePaths) {
		return nil, "", fmt.Errorf("file %d of receipt %s: %w", index, id, ErrNotFound)
	}

	path := r.FilePaths[index]
	data, err := s.storage.Get(path)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, scanning.ContentTypeFor(path), nil
}

// AddProduct attaches a product to a receipt that tracks products
func (s *Service) AddProduct(ctx context.Context, receiptID string, p *Product) (*Product, error) {
	r, err := s.db.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if !ShouldHaveProducts(r) {
		return nil, ErrProductsNotAllowed
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	p.ID = s.idGenerator.Generate()
	p.ReceiptID = receiptID
	p.CreatedOn = now
	p.UpdatedOn = now
	if err := s.db.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("saving product: %w", err)
	}
	return p, nil
}

// UpdateProduct overwrites the editable fields of a product. Its receipt and
// classification are kept.
func (s *Service) UpdateProduct(ctx context.Context, p *Product) (*Product, error) {
	existing, err := s.db.GetProduct(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	existing.Name = p.Name
	existing.IsBio = p.IsBio
	existing.BioCategory = p.BioCategory
	existing.Amount = p.Amount
	existing.Unit = p.Unit
	existing.Price = p.Price
	existing.UpdatedOn = s.timeSource.Now()

	if err := s.db.SaveProduct(ctx, existing); err != nil {
		return nil, fmt.Errorf("updating product: %w", err)
	}
	return existing, nil
}

// DeleteProduct removes a product
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.db.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	return nil
}

// ListProducts returns products matching filter
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	if filter.BioCategory != "" && !filter.BioCategory.Valid() {
		return nil, fmt.Errorf("unknown bio category %q: %w", filter.BioCategory, ErrValidation)
	}
	products, err := s.db.ListProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// FindOrphanedProducts lists products whose receipt no longer exists
func (s *Service) FindOrphanedProducts(ctx context.Context) ([]*Product, error) {
	products, err := s.db.FindOrphanedProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding orphaned products: %w", err)
	}
	return products, nil
}

// RemoveOrphanedProducts deletes products whose receipt no longer exists
func (s *Service) RemoveOrphanedProducts(ctx context.Context) (int64, error) {
	n, err := s.db.DeleteOrphanedProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned products: %w", err)
	}
	if n > 0 {
		slog.Info("Removed orphaned products", "count", n)
	}
	return n, nil
}
