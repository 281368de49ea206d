package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zombor/hofbuch/internal/receipt"
	"github.com/zombor/hofbuch/internal/scanning"
)

// Multipart uploads are limited to 50MB to handle high-resolution phone photos
const maxFormSize = int64(50 << 20)

type receiptRequest struct {
	Receipt  receipt.Receipt    `json:"receipt"`
	Products []*receipt.Product `json:"products"`
}

type receiptResponse struct {
	Receipt  *receipt.Receipt   `json:"receipt"`
	Products []*receipt.Product `json:"products"`
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	credit, err := parseBoolParam(q.Get("credit"))
	if err != nil {
		writeServiceError(w, "list receipts", err)
		return
	}
	from, err := parseDateParam(q.Get("from"))
	if err != nil {
		writeServiceError(w, "list receipts", err)
		return
	}
	to, err := parseDateParam(q.Get("to"))
	if err != nil {
		writeServiceError(w, "list receipts", err)
		return
	}

	receipts, err := s.receipts.ListReceipts(r.Context(), receipt.ReceiptFilter{
		Credit:      credit,
		CompanyName: q.Get("company"),
		Source:      receipt.Source(q.Get("source")),
		DateFrom:    from,
		DateTo:      to,
	})
	if err != nil {
		writeServiceError(w, "list receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "create receipt", err)
		return
	}
	created, err := s.receipts.CreateReceipt(r.Context(), &req.Receipt, req.Products)
	if err != nil {
		writeServiceError(w, "create receipt", err)
		return
	}
	products := req.Products
	if products == nil {
		products = []*receipt.Product{}
	}
	writeJSON(w, http.StatusCreated, receiptResponse{Receipt: created, Products: products})
}

// readUploads reads every file of the multipart fields "files" and "file"
func readUploads(form *multipart.Form) ([]receipt.Upload, error) {
	headers := slices.Concat(form.File["files"], form.File["file"])
	uploads := make([]receipt.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", h.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", h.Filename, err)
		}
		contentType := h.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = scanning.ContentTypeFor(h.Filename)
		}
		uploads = append(uploads, receipt.Upload{Filename: h.Filename, Data: data, ContentType: contentType})
	}
	return uploads, nil
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return false
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return false
	}
	return true
}

func (s *Server) handleExtractReceipt(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	variant, err := scanning.ParsePromptVariant(r.FormValue("variant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	customPrompt := r.FormValue("prompt")
	if variant == scanning.PromptCustom && customPrompt == "" {
		writeError(w, http.StatusBadRequest, "A prompt is required for manual input")
		return
	}

	uploads, err := readUploads(r.MultipartForm)
	if err != nil {
		writeServiceError(w, "extract receipt", err)
		return
	}
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	draft, err := s.receipts.ProcessUpload(r.Context(), uploads, variant, customPrompt)
	if err != nil {
		if errors.Is(err, receipt.ErrValidation) {
			writeServiceError(w, "extract receipt", err)
			return
		}
		slog.Error("Error extracting receipt", "variant", variant, "error", err)
		writeError(w, http.StatusInternalServerError, "Extraction failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleImportKalkuel(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeServiceError(w, "import kalkuel", err)
		return
	}
	result, err := s.receipts.ImportKalkuel(r.Context(), data)
	if err != nil {
		writeServiceError(w, "import kalkuel", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, products, err := s.receipts.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Receipt: rec, Products: products})
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var rec receipt.Receipt
	if err := decodeJSON(r, &rec); err != nil {
		writeServiceError(w, "update receipt", err)
		return
	}
	rec.ID = chi.URLParam(r, "id")
	updated, err := s.receipts.UpdateReceipt(r.Context(), &rec)
	if err != nil {
		writeServiceError(w, "update receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.receipts.DeleteReceipt(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "File index must be a number")
		return
	}
	data, contentType, err := s.receipts.GetReceiptFile(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		writeServiceError(w, "get receipt file", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing receipt file", "error", err)
	}
}

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var p receipt.Product
	if err := decodeJSON(r, &p); err != nil {
		writeServiceError(w, "add product", err)
		return
	}
	created, err := s.receipts.AddProduct(r.Context(), chi.URLParam(r, "id"), &p)
	if err != nil {
		writeServiceError(w, "add product", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	credit, err := parseBoolParam(q.Get("credit"))
	if err != nil {
		writeServiceError(w, "list products", err)
		return
	}
	bio, err := parseBoolParam(q.Get("bio"))
	if err != nil {
		writeServiceError(w, "list products", err)
		return
	}
	unclassified, err := parseBoolParam(q.Get("unclassified"))
	if err != nil {
		writeServiceError(w, "list products", err)
		return
	}
	bucket := receipt.Bucket(q.Get("bucket"))
	if bucket != "" && bucket != receipt.BucketBiokontrolle && bucket != receipt.BucketKaeseinnahmen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown bucket %q", bucket))
		return
	}

	products, err := s.receipts.ListProducts(r.Context(), receipt.ProductFilter{
		ReceiptID:      q.Get("receipt"),
		ProductClassID: q.Get("class"),
		Unclassified:   unclassified != nil && *unclassified,
		Credit:         credit,
		Bio:            bio,
		Bucket:         bucket,
		CompanyName:    q.Get("company"),
		BioCategory:    receipt.BioCategory(q.Get("bio_category")),
	})
	if err != nil {
		writeServiceError(w, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var p receipt.Product
	if err := decodeJSON(r, &p); err != nil {
		writeServiceError(w, "update product", err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	updated, err := s.receipts.UpdateProduct(r.Context(), &p)
	if err != nil {
		writeServiceError(w, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.receipts.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFindOrphans(w http.ResponseWriter, r *http.Request) {
	products, err := s.receipts.FindOrphanedProducts(r.Context())
	if err != nil {
		writeServiceError(w, "find orphaned products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleRemoveOrphans(w http.ResponseWriter, r *http.Request) {
	n, err := s.receipts.RemoveOrphanedProducts(r.Context())
	if err != nil {
		writeServiceError(w, "remove orphaned products", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
