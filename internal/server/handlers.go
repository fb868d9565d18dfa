package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	convCount, err := s.storage.CountConversations(ctx)
	if err != nil {
		s.respondError(w, fmt.Errorf("count conversations: %w", err))
		return
	}
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondError(w, fmt.Errorf("count documents: %w", err))
		return
	}
	resp := map[string]interface{}{
		"conversations": convCount,
		"documents":     docCount,
		"templates":     len(s.orch.Catalog().Types()),
	}
	if s.search != nil {
		if n, err := s.search.DocCount(); err == nil {
			resp["indexed_sections"] = n
		}
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"database_path":       s.config.Storage.DatabasePath,
			"search_index_path":   s.config.Storage.SearchIndexPath,
			"templates_directory": s.config.Templates.Directory,
			"llm_provider":        s.config.LLM.Provider,
			"llm_models":          s.config.LLM.Models,
			"token_ceiling":       s.config.Conversation.TokenCeiling,
			"checkpoint_every":    s.config.Conversation.CheckpointEvery,
		}
		diskBytes, err := storage.FootprintBytes(s.config.Storage.DatabasePath, s.config.Storage.SearchIndexPath)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type templateSummary struct {
	DocumentType models.DocumentType `json:"document_type"`
	Title        string              `json:"title"`
	Version      string              `json:"version"`
	Phase        models.Phase        `json:"phase"`
	Sections     int                 `json:"sections"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls := s.orch.Catalog().Templates()
	out := make([]templateSummary, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, templateSummary{
			DocumentType: t.DocumentType,
			Title:        t.Title,
			Version:      t.Version,
			Phase:        t.Phase,
			Sections:     len(t.Sections),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"templates": out})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.orch.Catalog().Get(models.DocumentType(chi.URLParam(r, "type")))
	if err != nil {
		s.respondError(w, models.WrapError(models.KindNotFound, err, "unknown template"))
		return
	}
	s.respondJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("create conversation request", zap.String("type", string(req.Type)))
	res, err := s.orch.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	convs, err := s.orch.Conversations(r.Context(), offset, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.orch.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := s.orch.Answers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"answers": answers})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req orchestrator.AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("answer request",
		zap.String("conversation_id", id),
		zap.String("question_id", req.QuestionID),
		zap.Bool("skip", req.Skip))
	res, err := s.orch.Answer(r.Context(), id, req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	conv, err := s.orch.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.orch.Documents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	doc, err := s.orch.Regenerate(r.Context(), chi.URLParam(r, "id"), models.DocumentType(chi.URLParam(r, "type")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	doc, err := s.orch.Review(r.Context(), chi.URLParam(r, "id"), models.DocumentType(chi.URLParam(r, "type")))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

// handleGetDocument serves the latest or a given version. With
// ?format=markdown the document is rendered with references resolved.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	version := 0
	if v := chi.URLParam(r, "version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, models.InvalidInputError("invalid version %q", v))
			return
		}
		version = n
	}
	doc, err := s.orch.Document(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "markdown" {
		s.respondJSON(w, http.StatusOK, doc)
		return
	}
	md, err := s.orch.Render(r.Context(), doc)
	if err != nil {
		s.logger.Warn("unresolved references in document",
			zap.String("document_id", doc.ID),
			zap.Int("version", doc.Version),
			zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, md)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	docs, err := s.orch.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"versions": docs})
}

type searchResponse struct {
	Query      string             `json:"query"`
	Hits       []search.Hit       `json:"hits"`
	Suggestion *search.Suggestion `json:"suggestion,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		s.respondJSON(w, http.StatusNotImplemented, errorBody(models.KindInternal, "search not enabled"))
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, models.InvalidInputError("invalid limit %q", v))
			return
		}
		limit = n
	}
	query := search.Query{
		Text:           q.Get("q"),
		ConversationID: q.Get("conversation_id"),
		DocumentType:   models.DocumentType(q.Get("document_type")),
		Limit:          limit,
		Fuzzy:          q.Get("fuzzy") == "true",
	}
	s.logger.Debug("search request", zap.String("query", query.Text), zap.Int("limit", query.Limit))
	hits, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := searchResponse{Query: query.Text, Hits: hits}
	if len(hits) == 0 {
		if sug, err := s.search.Suggest(query.Text); err == nil {
			resp.Suggestion = sug
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func paging(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"offset", &offset}, {"limit", &limit}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, models.InvalidInputError("invalid %s %q", p.name, v)
		}
		*p.dst = n
	}
	return offset, limit, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, models.WrapError(models.KindInvalidInput, err, "invalid request body"))
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidState, models.KindBudgetExceeded:
		return http.StatusConflict
	case models.KindIncompleteSection:
		return http.StatusUnprocessableEntity
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindInvalidResponse, models.KindContextOverflow:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorPayload struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func errorBody(kind models.ErrorKind, message string) map[string]errorPayload {
	return map[string]errorPayload{"error": {Kind: kind, Message: message}}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.respondJSON(w, status, errorBody(kind, err.Error()))
}
