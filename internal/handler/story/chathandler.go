package story

import (
	"net/http"

	"github.com/costory/costory/internal/handler"
	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/logic/story"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

// Stream an AI reply as newline-delimited JSON events
func ChatHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		l := story.NewChatLogic(r.Context(), svcCtx, middleware.UserID(r.Context()))
		events, err := l.Chat(&req)
		if err != nil {
			handler.Error(w, err)
			return
		}

		stream := httputil.NewNDJSON(w)
		for ev := range events {
			if err := stream.Write(ev); err != nil {
				logging.Debugf("[Chat] client went away: %v", err)
				// Drain so the runner is never blocked on a dead consumer.
				for range events {
				}
				return
			}
		}
	}
}
