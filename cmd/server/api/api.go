package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/docker/docker/api/types/system"
	"github.com/x007007007/docker-image-trans/cmd/server/config"
	"github.com/x007007007/docker-image-trans/lib/broadcast"
	"github.com/x007007007/docker-image-trans/lib/engine"
	"github.com/x007007007/docker-image-trans/lib/transfer"
)

// Engine is the slice of the engine facade the handlers use.
type Engine interface {
	Ping(ctx context.Context) error
	Diagnose(ctx context.Context) string
	InfoAsync(ctx context.Context) <-chan engine.Result[system.Info]
	ListImagesAsync(ctx context.Context) <-chan engine.Result[[]engine.Summary]
	RemoveImageAsync(ctx context.Context, ref string, force bool) <-chan error
}

// Runner executes one transfer request to completion.
type Runner interface {
	Run(ctx context.Context, req transfer.Request) transfer.Outcome
}

// ApiService holds the HTTP and WebSocket handlers.
type ApiService struct {
	Config      *config.Config
	Engine      Engine
	Pipeline    Runner
	Broadcaster *broadcast.Broadcaster
	// Log is the base logger handed to pipeline runs that outlive their
	// originating request.
	Log *slog.Logger
}

// New creates a new ApiService
func New(
	cfg *config.Config,
	eng Engine,
	pipeline Runner,
	broadcaster *broadcast.Broadcaster,
	log *slog.Logger,
) *ApiService {
	return &ApiService{
		Config:      cfg,
		Engine:      eng,
		Pipeline:    pipeline,
		Broadcaster: broadcaster,
		Log:         log,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
