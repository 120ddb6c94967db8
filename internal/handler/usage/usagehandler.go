package usage

import (
	"net/http"

	"github.com/costory/costory/internal/handler"
	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/logic/usage"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

// Get the caller's tier, limits and current-month counters
func GetUsageHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := usage.NewUsageLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.GetUsage()
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}

// Record words the client applied from an assistant action
func TrackWordsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.TrackWordsRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := usage.NewUsageLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.TrackWords(&req)
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}
