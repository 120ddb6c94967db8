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

// Check whether the caller may create another reading list
func CheckReadingListHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := usage.NewUsageLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.CheckReadingList()
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.OkJSON(w, resp)
		}
	}
}

// Create a reading list within the tier's list ceiling
func CreateReadingListHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateReadingListRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := usage.NewUsageLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		resp, err := l.CreateReadingList(&req)
		if err != nil {
			handler.Error(w, err)
		} else {
			httputil.WriteJSON(w, http.StatusCreated, resp)
		}
	}
}
