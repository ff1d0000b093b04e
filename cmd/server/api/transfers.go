package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/x007007007/docker-image-trans/lib/logger"
	"github.com/x007007007/docker-image-trans/lib/transfer"
)

// ProcessImageRequest is the JSON body for transfer submissions.
type ProcessImageRequest struct {
	// ImageName is the source reference, e.g. "nginx" or
	// "gcr.io/google-samples/hello-app:1.0".
	ImageName string `json:"image_name"`
	// TargetDomain overrides the configured target registry for this
	// transfer only. Empty means the configured default.
	TargetDomain string `json:"target_domain,omitempty"`
}

// ProcessImageResponse acknowledges that a transfer was started.
type ProcessImageResponse struct {
	Message   string `json:"message"`
	ImageName string `json:"image_name"`
}

// ProcessImage starts a transfer for the submitted reference and returns
// immediately. Progress is reported over the /ws stream, not in this
// response; malformed references are only rejected here if the body itself
// is unusable.
func (s *ApiService) ProcessImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ProcessImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with an image_name field")
		return
	}
	if req.ImageName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "image_name must not be empty")
		return
	}

	domain := req.TargetDomain
	if domain == "" {
		domain = s.Config.TargetRegistry
	}
	log.InfoContext(ctx, "transfer accepted", "image_name", req.ImageName, "target_registry", domain)

	// The run outlives this request: detach from the request's cancellation
	// but keep its values so log lines still carry the request id.
	runCtx := logger.AddToContext(context.WithoutCancel(ctx), s.Log)
	go s.Pipeline.Run(runCtx, transfer.Request{
		RawRef:       req.ImageName,
		TargetDomain: domain,
	})

	writeJSON(w, http.StatusAccepted, ProcessImageResponse{
		Message:   "image processing started",
		ImageName: req.ImageName,
	})
}
