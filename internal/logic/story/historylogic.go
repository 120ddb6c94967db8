package story

import (
	"context"
	"time"

	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type HistoryLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
	userID string
}

// Read and clear a story's chat history
func NewHistoryLogic(ctx context.Context, svcCtx *svc.ServiceContext, userID string) *HistoryLogic {
	return &HistoryLogic{ctx: ctx, svcCtx: svcCtx, userID: userID}
}

func (l *HistoryLogic) GetHistory(req *types.ChatHistoryRequest) (*types.ChatHistoryResponse, error) {
	if _, err := ownedStory(l.ctx, l.svcCtx.DB, l.userID, req.StoryId); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	turns, err := l.svcCtx.Sessions.RecentTurns(l.ctx, req.StoryId, limit)
	if err != nil {
		return nil, err
	}
	summary, err := l.svcCtx.Sessions.GetSummary(l.ctx, req.StoryId)
	if err != nil {
		return nil, err
	}

	resp := &types.ChatHistoryResponse{Summary: summary, Turns: make([]types.ChatTurn, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, types.ChatTurn{
			Id:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

func (l *HistoryLogic) ClearHistory(req *types.ClearChatRequest) error {
	if _, err := ownedStory(l.ctx, l.svcCtx.DB, l.userID, req.StoryId); err != nil {
		return err
	}
	return l.svcCtx.Sessions.Clear(l.ctx, req.StoryId)
}
