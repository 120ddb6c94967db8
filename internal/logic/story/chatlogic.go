package story

import (
	"context"
	"fmt"
	"strings"

	"github.com/costory/costory/internal/agent/prompt"
	"github.com/costory/costory/internal/agent/runner"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

type ChatLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
	userID string
}

// Start an AI chat turn on a story
func NewChatLogic(ctx context.Context, svcCtx *svc.ServiceContext, userID string) *ChatLogic {
	return &ChatLogic{ctx: ctx, svcCtx: svcCtx, userID: userID}
}

// Chat admits the request and starts generation. The user turn is saved by
// the runner only once the request was admitted.
func (l *ChatLogic) Chat(req *types.ChatRequest) (<-chan runner.Event, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", runner.ErrInvalidRequest)
	}
	if _, err := ownedStory(l.ctx, l.svcCtx.DB, l.userID, req.StoryId); err != nil {
		return nil, err
	}

	events, err := l.svcCtx.Runner.Run(l.ctx, &runner.RunRequest{
		UserID:         l.userID,
		StoryID:        req.StoryId,
		Mode:           prompt.Mode(req.Mode),
		Message:        req.Message,
		Context:        req.Context,
		ChapterIndex:   req.ChapterIndex,
		RequestedModel: req.Model,
		SessionType:    "chat",
		SaveUserTurn:   true,
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ownedStory loads a story and hides other users' stories as not found.
func ownedStory(ctx context.Context, store *db.Store, userID, storyID string) (*db.Story, error) {
	if storyID == "" {
		return nil, fmt.Errorf("%w: story id is required", runner.ErrInvalidRequest)
	}
	st, err := store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, fmt.Errorf("story %s: %w", storyID, db.ErrNotFound)
	}
	return st, nil
}
