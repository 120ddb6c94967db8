package ai

import (
	"context"
	"sort"

	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/svc"
	"github.com/costory/costory/internal/types"
)

type ModelsLogic struct {
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

// List catalog models with live pricing and health
func NewModelsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ModelsLogic {
	return &ModelsLogic{ctx: ctx, svcCtx: svcCtx}
}

func (l *ModelsLogic) ListModels() *types.ListModelsResponse {
	reg := l.svcCtx.Registry
	models := reg.Models()
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })

	resp := &types.ListModelsResponse{Default: reg.DefaultModel(), Models: make([]types.Model, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, types.Model{
			Id:            m.ID,
			DisplayName:   m.DisplayName,
			Pool:          string(poolOf(reg, m.ID)),
			ContextWindow: m.ContextWindow,
			InputPrice:    m.Pricing.Input.String(),
			OutputPrice:   m.Pricing.Output.String(),
			RateLimited:   reg.IsRateLimited(m.ID),
		})
	}
	return resp
}

type poolReader interface {
	InPool(p provider.Pool, id string) bool
}

func poolOf(r poolReader, id string) provider.Pool {
	for _, p := range []provider.Pool{provider.PoolPaidPremium, provider.PoolPaidLow, provider.PoolFree} {
		if r.InPool(p, id) {
			return p
		}
	}
	return ""
}
