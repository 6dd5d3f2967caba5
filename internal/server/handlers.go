package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/models"
	"github.com/takumi/kioku/internal/rag"
)

type indexRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	stats, err := s.manager.IndexDocuments(r.Context(), req.Path)
	if err != nil {
		var nf *rag.NotFoundError
		switch {
		case errors.As(err, &nf):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, rag.ErrNoSupportedFiles):
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("indexing failed", zap.String("path", req.Path), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{
		"files":  stats.Files,
		"chunks": stats.Chunks,
	})
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	out, err := s.manager.QueryDocuments(r.Context(), req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, rag.ErrNotIndexed) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("query failed", zap.String("query", req.Query), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"result": out})
}

type keywordHit struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

func (s *Server) handleKeyword(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	docs, err := s.manager.SearchKeyword(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.logger.Error("keyword search failed", zap.String("query", req.Query), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hits := make([]keywordHit, 0, len(docs))
	for _, doc := range docs {
		hit := keywordHit{Content: doc.Content, Source: doc.Source()}
		if score, ok := doc.Metadata[models.MetaKeyScore].(float64); ok {
			hit.Score = score
		}
		hits = append(hits, hit)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	paths, err := s.manager.ListDocumentPaths(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if paths == nil {
		paths = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": paths})
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		var body indexRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	removed, err := s.manager.RemoveDocument(r.Context(), path)
	if err != nil {
		s.logger.Error("removal failed", zap.String("path", path), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed == 0 {
		s.respondError(w, http.StatusNotFound, "no indexed chunks for path")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": path, "removed": removed})
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RemoveAllDocuments(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	paths, err := s.manager.ListDocumentPaths(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": len(paths),
		"chunks":    s.manager.Count(),
		"config": map[string]interface{}{
			"embedding_model":      s.cfg.Embedding.Model,
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"chunk_size":           s.cfg.Chunking.ChunkSize,
			"chunk_overlap":        s.cfg.Chunking.ChunkOverlap,
			"database_path":        s.cfg.Storage.DatabasePath(),
			"keyword_index_path":   s.cfg.Storage.KeywordIndexPath(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
