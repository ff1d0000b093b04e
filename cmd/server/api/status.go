package api

import (
	"net/http"
	"time"

	"github.com/docker/docker/api/types/system"
)

// HealthResponse reports process liveness plus docker engine reachability.
type HealthResponse struct {
	Status     string  `json:"status"`
	Docker     string  `json:"docker"`
	DockerInfo string  `json:"docker_info"`
	Timestamp  float64 `json:"timestamp"`
}

// DockerStatusResponse reports engine connectivity with daemon metadata on
// success or the connection error on failure.
type DockerStatusResponse struct {
	Connected bool        `json:"connected"`
	Status    string      `json:"status"`
	Info      *EngineInfo `json:"info,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message"`
}

// EngineInfo is the subset of daemon metadata exposed by /docker-status.
type EngineInfo struct {
	ServerVersion   string `json:"server_version"`
	OperatingSystem string `json:"operating_system"`
	Architecture    string `json:"architecture"`
	Containers      int    `json:"containers"`
	Images          int    `json:"images"`
}

// Health always answers 200: the process being able to answer is the
// liveness signal, and engine trouble is reported in the body instead.
func (s *ApiService) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docker := "healthy"
	if err := s.Engine.Ping(ctx); err != nil {
		docker = "unhealthy"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Docker:     docker,
		DockerInfo: s.Engine.Diagnose(ctx),
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
	})
}

// DockerStatus reports engine connectivity and daemon metadata.
func (s *ApiService) DockerStatus(w http.ResponseWriter, r *http.Request) {
	res := <-s.Engine.InfoAsync(r.Context())
	if res.Err != nil {
		writeJSON(w, http.StatusOK, DockerStatusResponse{
			Connected: false,
			Status:    "unhealthy",
			Error:     res.Err.Error(),
			Message:   "docker engine unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, DockerStatusResponse{
		Connected: true,
		Status:    "healthy",
		Info:      engineInfoOf(res.Value),
		Message:   "docker engine reachable",
	})
}

func engineInfoOf(info system.Info) *EngineInfo {
	return &EngineInfo{
		ServerVersion:   info.ServerVersion,
		OperatingSystem: info.OperatingSystem,
		Architecture:    info.Architecture,
		Containers:      info.Containers,
		Images:          info.Images,
	}
}
