package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zombor/hofbuch/internal/receipt"
	"github.com/zombor/hofbuch/internal/report"
)

const defaultTopCompanies = 10

func parseOrder(value string) (report.Order, error) {
	switch report.Order(value) {
	case "", report.OrderByAmount:
		return report.OrderByAmount, nil
	case report.OrderByName:
		return report.OrderByName, nil
	}
	return "", fmt.Errorf("unknown order %q: %w", value, receipt.ErrValidation)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	credit, err := parseBoolParam(q.Get("credit"))
	if err != nil {
		writeServiceError(w, "overview", err)
		return
	}
	from, err := parseDateParam(q.Get("from"))
	if err != nil {
		writeServiceError(w, "overview", err)
		return
	}
	to, err := parseDateParam(q.Get("to"))
	if err != nil {
		writeServiceError(w, "overview", err)
		return
	}
	top, err := parseIntParam(q.Get("top"), defaultTopCompanies)
	if err != nil {
		writeServiceError(w, "overview", err)
		return
	}

	overview, err := s.reports.Overview(r.Context(), receipt.ReceiptFilter{Credit: credit, DateFrom: from, DateTo: to}, top)
	if err != nil {
		writeServiceError(w, "overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleKaese(w http.ResponseWriter, r *http.Request) {
	order, err := parseOrder(r.URL.Query().Get("order"))
	if err != nil {
		writeServiceError(w, "kaese report", err)
		return
	}
	rep, err := s.reports.Kaese(r.Context(), r.URL.Query().Get("company"), order)
	if err != nil {
		writeServiceError(w, "kaese report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleBiokontrolle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := parseOrder(q.Get("order"))
	if err != nil {
		writeServiceError(w, "biokontrolle report", err)
		return
	}
	rep, err := s.reports.Biokontrolle(r.Context(), receipt.BioCategory(q.Get("category")), q.Get("company"), order)
	if err != nil {
		writeServiceError(w, "biokontrolle report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter report.ExportFilter
	var err error
	if filter.MinCreatedDate, err = parseDateParam(q.Get("min_created")); err != nil {
		writeServiceError(w, "export", err)
		return
	}
	if filter.MinReceiptDate, err = parseDateParam(q.Get("min_date")); err != nil {
		writeServiceError(w, "export", err)
		return
	}
	if filter.MaxReceiptDate, err = parseDateParam(q.Get("max_date")); err != nil {
		writeServiceError(w, "export", err)
		return
	}

	export, err := s.reports.Export(r.Context(), filter)
	if err != nil {
		writeServiceError(w, "export", err)
		return
	}

	switch q.Get("format") {
	case "json":
		writeJSON(w, http.StatusOK, export)
	case "", "xlsx":
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf); err != nil {
			writeServiceError(w, "export", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="steuerberater.xlsx"`)
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Error("Error writing export", "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", q.Get("format")))
	}
}
