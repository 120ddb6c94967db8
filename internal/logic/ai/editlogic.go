package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/agent/runner"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/quota"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

const (
	editTimeout   = time.Minute
	editMaxTokens = 2000
)

const editSystemPrompt = `You are an expert text editor.
Rewrite the provided text according to the instruction.
Return ONLY the rewritten text, with no explanation and no surrounding quotes unless the text needs them.
If the instruction cannot be applied, return the original text.`

type EditLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
	userID string
}

// One-shot rewrite of a passage
func NewEditLogic(ctx context.Context, svcCtx *svc.ServiceContext, userID string) *EditLogic {
	return &EditLogic{ctx: ctx, svcCtx: svcCtx, userID: userID}
}

// Edit rewrites req.Text with a free-pool model. A model failure returns the
// original text with Edited false.
func (l *EditLogic) Edit(req *types.EditRequest) (*types.EditResponse, error) {
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("%w: text and instruction are required", runner.ErrInvalidRequest)
	}
	if err := l.svcCtx.Ledger.CheckCreditBalance(l.ctx, l.userID); err != nil {
		return nil, err
	}

	original := &types.EditResponse{Text: req.Text}
	model := l.svcCtx.Registry.SelectBestAvailable(provider.PoolFree, nil).ID
	if model == "" {
		return original, nil
	}

	ctx, cancel := context.WithTimeout(l.ctx, editTimeout)
	defer cancel()
	resp, err := ai.Collect(ctx, l.svcCtx.Provider, &ai.ChatRequest{
		Model:  model,
		System: editSystemPrompt,
		Messages: []ai.Message{{
			Role:    ai.RoleUser,
			Content: fmt.Sprintf("Original text:\n%q\n\nInstruction:\n%s", req.Text, req.Instruction),
		}},
		MaxTokens: editMaxTokens,
	})
	if err != nil {
		if ai.IsRateLimited(err) {
			l.svcCtx.Registry.MarkRateLimited(model)
		}
		logging.Warnf("[Edit] %s failed (%s): %v", model, ai.ClassifyErrorReason(err), err)
		return original, nil
	}

	// Billed outside the request context so a disconnect does not skip it.
	_, _ = l.svcCtx.Ledger.BillGeneration(context.WithoutCancel(l.ctx), quota.Charge{
		UserID:       l.userID,
		SessionType:  "edit",
		ModelUsed:    model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Success:      true,
	})

	text := strings.TrimSpace(resp.Content())
	if text == "" {
		return original, nil
	}
	return &types.EditResponse{Text: text, Edited: true, Model: model}, nil
}
