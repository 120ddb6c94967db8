package ai

import (
	"net/http"

	"github.com/costory/costory/internal/handler"
	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/logic/ai"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

// Rewrite a passage following an instruction
func EditHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.EditRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := ai.NewEditLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.Edit(&req)
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}

// List catalog models
func ListModelsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, ai.NewModelsLogic(r.Context(), svcCtx).ListModels())
	}
}
