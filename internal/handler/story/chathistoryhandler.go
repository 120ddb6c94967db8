package story

import (
	"net/http"

	"github.com/costory/costory/internal/handler"
	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/logic/story"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

// Get a story's chat turns and rolling summary
func GetChatHistoryHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatHistoryRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := story.NewHistoryLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.GetHistory(&req)
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}

// Delete a story's chat turns and summary
func ClearChatHistoryHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ClearChatRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := story.NewHistoryLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		if err := l.ClearHistory(&req); err != nil {
			handler.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
