package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/ingest"
	"github.com/bunsilmul/chaja/internal/models"
)

const maxUploadBytes = 20 << 20

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	input, err := s.decodeRegisterInput(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("register request", zap.Int64("external_id", input.ExternalID))

	result, err := s.pipeline.Register(r.Context(), input)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingField) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("register failed", zap.Int64("external_id", input.ExternalID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []*models.RegisterInput `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		s.respondError(w, http.StatusBadRequest, "items cannot be empty")
		return
	}
	s.logger.Debug("batch register request", zap.Int("items", len(req.Items)))

	resp, err := s.pipeline.RegisterBatch(r.Context(), req.Items)
	if err != nil {
		s.logger.Error("batch register failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	s.logger.Debug("delete request", zap.Int64("external_id", id))

	removed, err := s.pipeline.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete failed", zap.Int64("external_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// handleSearchImage captions the uploaded image and searches with the
// caption as the query text.
func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil || len(image) == 0 {
		s.respondError(w, http.StatusBadRequest, "could not read image")
		return
	}

	topK := 0
	if v := r.FormValue("top_k"); v != "" {
		topK, err = strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid top_k")
			return
		}
	}

	caption, err := s.gateway.Caption(r.Context(), image)
	if err != nil {
		s.logger.Error("caption failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if caption == "" {
		s.respondError(w, http.StatusBadRequest, "image produced no caption")
		return
	}

	query := models.SearchQuery{Query: caption, TopK: topK}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("image search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ValidIDs []int64 `json:"valid_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Info("sync request", zap.Int("valid_ids", len(req.ValidIDs)))

	resp, err := s.pipeline.Sync(r.Context(), req.ValidIDs)
	if err != nil {
		s.logger.Error("sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	itemCount, err := s.items.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count items failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":        itemCount,
		"live_vectors": s.store.Count(),
		"vectors":      s.store.VectorCount(),
		"index_kind":   string(s.store.Kind()),
		"dimension":    s.store.Dim(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRegisterInput accepts either a JSON body or a multipart form with an
// inline image file.
func (s *Server) decodeRegisterInput(r *http.Request) (*models.RegisterInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, errors.New("invalid multipart form")
		}
		id, err := strconv.ParseInt(r.FormValue("external_id"), 10, 64)
		if err != nil {
			return nil, errors.New("external_id is required")
		}
		input := &models.RegisterInput{
			ExternalID:  id,
			Name:        r.FormValue("name"),
			Description: r.FormValue("description"),
			Brand:       r.FormValue("brand"),
			ImageURL:    r.FormValue("image_url"),
		}
		if file, _, err := r.FormFile("image"); err == nil {
			defer file.Close()
			image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
			if err != nil {
				return nil, errors.New("could not read image")
			}
			input.Image = image
		}
		return input, nil
	}

	var input models.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return nil, errors.New("invalid request body")
	}
	if input.ExternalID == 0 {
		return nil, errors.New("external_id is required")
	}
	return &input, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
