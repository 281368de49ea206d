package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type nameRequest struct {
	Name string `json:"name"`
}

type regexRequest struct {
	Regex string `json:"regex"`
}

type assignRequest struct {
	ProductIDs []string `json:"product_ids"`
	ClassID    string   `json:"class_id"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.engine.ListClasses(r.Context())
	if err != nil {
		writeServiceError(w, "list classes", err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "create class", err)
		return
	}
	class, err := s.engine.CreateClass(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, "create class", err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

func (s *Server) handleRenameClass(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "rename class", err)
		return
	}
	class, err := s.engine.RenameClass(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeServiceError(w, "rename class", err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	deletion, err := s.engine.DeleteClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "delete class", err)
		return
	}
	writeJSON(w, http.StatusOK, deletion)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.GetClass(r.Context(), id); err != nil {
		writeServiceError(w, "list rules", err)
		return
	}
	rules, err := s.engine.ListRules(r.Context(), id)
	if err != nil {
		writeServiceError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req regexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "create rule", err)
		return
	}
	rule, err := s.engine.CreateRule(r.Context(), chi.URLParam(r, "id"), req.Regex)
	if err != nil {
		writeServiceError(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req regexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "update rule", err)
		return
	}
	rule, err := s.engine.UpdateRule(r.Context(), chi.URLParam(r, "id"), req.Regex)
	if err != nil {
		writeServiceError(w, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreviewBatch(w http.ResponseWriter, r *http.Request) {
	products, err := s.engine.PreviewBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "preview batch", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleBatchAssign(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.BatchAssign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "batch assign", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleResetClass(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ResetClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "reset class", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleUnclassified(w http.ResponseWriter, r *http.Request) {
	products, err := s.engine.UnclassifiedProducts(r.Context(), r.URL.Query().Get("rule"))
	if err != nil {
		writeServiceError(w, "unclassified products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeServiceError(w, "classification status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "assign class", err)
		return
	}
	n, err := s.engine.AssignClass(r.Context(), req.ProductIDs, req.ClassID)
	if err != nil {
		writeServiceError(w, "assign class", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleTestPattern(w http.ResponseWriter, r *http.Request) {
	var req regexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, "test pattern", err)
		return
	}
	products, err := s.engine.TestPattern(r.Context(), req.Regex)
	if err != nil {
		writeServiceError(w, "test pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ResetAll(r.Context())
	if err != nil {
		writeServiceError(w, "reset classification", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
