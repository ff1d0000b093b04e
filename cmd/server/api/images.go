package api

import (
	"net/http"

	"github.com/x007007007/docker-image-trans/lib/engine"
	"github.com/x007007007/docker-image-trans/lib/logger"
)

// ListImagesResponse wraps the local image list.
type ListImagesResponse struct {
	Images []engine.Summary `json:"images"`
}

// ListImages returns the images currently present on the engine.
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	res := <-s.Engine.ListImagesAsync(r.Context())
	if res.Err != nil {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "list images failed", "error", res.Err)
		writeError(w, http.StatusBadGateway, "engine_error", res.Err.Error())
		return
	}

	images := res.Value
	if images == nil {
		images = []engine.Summary{}
	}
	writeJSON(w, http.StatusOK, ListImagesResponse{Images: images})
}

// RemoveImage deletes a local image. The reference comes from the "ref"
// query parameter because image references contain slashes and colons that
// do not survive as path segments.
func (s *ApiService) RemoveImage(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "ref query parameter is required")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if err := <-s.Engine.RemoveImageAsync(r.Context(), ref, force); err != nil {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "remove image failed", "ref", ref, "error", err)
		writeError(w, http.StatusBadGateway, "engine_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "image removed", "ref": ref})
}
