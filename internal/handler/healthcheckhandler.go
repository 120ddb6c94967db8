package handler

import (
	"net/http"
	"time"

	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

// Version is set at build time.
var Version = "dev"

func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := svcCtx.DB.DB().PingContext(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, &types.HealthResponse{
			Status:    status,
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
