package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/costory/costory/internal/action"
	"github.com/costory/costory/internal/agent/runner"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/quota"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

type UsageLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
	userID string
}

// Usage reporting and direct accounting
func NewUsageLogic(ctx context.Context, svcCtx *svc.ServiceContext, userID string) *UsageLogic {
	return &UsageLogic{ctx: ctx, svcCtx: svcCtx, userID: userID}
}

func (l *UsageLogic) GetUsage() (*types.GetUsageResponse, error) {
	report, err := l.svcCtx.Ledger.Usage(l.ctx, l.userID)
	if err != nil {
		return nil, err
	}
	return &types.GetUsageResponse{Report: *report}, nil
}

// TrackWords records words applied from an assistant action. They count as
// free-extra words.
func (l *UsageLogic) TrackWords(req *types.TrackWordsRequest) (*types.TrackWordsResponse, error) {
	words := req.WordCount
	if words == 0 && req.Content != "" {
		_, act, err := action.Parse(req.Content)
		if err != nil && !errors.Is(err, action.ErrNoAction) {
			return nil, fmt.Errorf("%w: %v", runner.ErrInvalidRequest, err)
		}
		words = int64(action.WordCount(act))
	}
	if words <= 0 {
		return nil, fmt.Errorf("%w: invalid word count", runner.ErrInvalidRequest)
	}

	logging.Infof("[Usage] Tracking %d words for user %s", words, l.userID)
	if err := l.svcCtx.Ledger.RecordDirectWordCount(l.ctx, l.userID, words); err != nil {
		return nil, err
	}
	return &types.TrackWordsResponse{Success: true, WordCount: words}, nil
}

func (l *UsageLogic) CheckReadingList() (*types.ReadingListCheckResponse, error) {
	err := l.svcCtx.Ledger.AdmitListCreation(l.ctx, l.userID)
	if quota.IsQuotaExceeded(err) {
		return &types.ReadingListCheckResponse{Allowed: false, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.ReadingListCheckResponse{Allowed: true}, nil
}

func (l *UsageLogic) CreateReadingList(req *types.CreateReadingListRequest) (*types.CreateReadingListResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", runner.ErrInvalidRequest)
	}
	if err := l.svcCtx.Ledger.AdmitListCreation(l.ctx, l.userID); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if err := l.svcCtx.DB.CreateReadingList(l.ctx, id, l.userID, name); err != nil {
		return nil, err
	}
	return &types.CreateReadingListResponse{Id: id, Name: name}, nil
}
