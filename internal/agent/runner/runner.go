package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/costory/costory/internal/action"
	"github.com/costory/costory/internal/agent/ai"
	"github.com/costory/costory/internal/agent/prompt"
	"github.com/costory/costory/internal/agent/tools"
	"github.com/costory/costory/internal/balance"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/provider"
	"github.com/costory/costory/internal/quota"
)

var (
	// ErrServiceUnavailable ends a request whose model candidates all failed.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInvalidRequest wraps caller input problems.
	ErrInvalidRequest = errors.New("invalid request")
)

// Ledger is the admission and accounting side of the quota package.
type Ledger interface {
	AdmitGeneration(ctx context.Context, userID string) (*quota.Admission, error)
	AdmitContext(tier quota.Tier, chapterIndex, chapterWords int) error
	RecordUsage(ctx context.Context, userID string, words int64, isPremium bool) error
	BillGeneration(ctx context.Context, c quota.Charge) (*quota.Bill, error)
}

// Router makes the routing decision.
type Router interface {
	Select(tier string, usage db.MonthlyUsage, requested string) balance.Selection
	IsPremium(modelID string) bool
}

// Models is the registry view used for failover.
type Models interface {
	SelectBestAvailable(pool provider.Pool, excluded map[string]bool) provider.ModelInfo
	IsRateLimited(id string) bool
	MarkRateLimited(id string)
}

// History persists chat turns.
type History interface {
	AppendTurn(ctx context.Context, storyID, role, content string) (int64, error)
}

// Summarizer compacts chat history in the background.
type Summarizer interface {
	Trigger(ctx context.Context, storyID string)
}

// Config bounds the loop. Zero values take the defaults.
type Config struct {
	MaxTurns           int
	CandidatesPerTurn  int
	AttemptsPerModel   int
	BackoffBase        time.Duration
	ModelSwitchDelay   time.Duration
	CodexLookupDelay   time.Duration
	MaxTokens          int
	MaxTokensFree      int
	RequestTimeout     time.Duration
	PostProcessTimeout time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           5,
		CandidatesPerTurn:  3,
		AttemptsPerModel:   2,
		BackoffBase:        2 * time.Second,
		MaxTokens:          6000,
		MaxTokensFree:      1500,
		RequestTimeout:     3 * time.Minute,
		PostProcessTimeout: 2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.CandidatesPerTurn <= 0 {
		c.CandidatesPerTurn = d.CandidatesPerTurn
	}
	if c.AttemptsPerModel <= 0 {
		c.AttemptsPerModel = d.AttemptsPerModel
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxTokensFree <= 0 {
		c.MaxTokensFree = d.MaxTokensFree
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PostProcessTimeout <= 0 {
		c.PostProcessTimeout = d.PostProcessTimeout
	}
	return c
}

// Deps are the runner's collaborators. Summarizer may be nil.
type Deps struct {
	Provider   ai.Provider
	Ledger     Ledger
	Router     Router
	Models     Models
	Prompts    *prompt.Builder
	History    History
	Tools      *tools.Registry
	Summarizer Summarizer
}

// Runner executes the agentic loop
type Runner struct {
	cfg  Config
	deps Deps
	bg   sync.WaitGroup
}

// RunRequest contains parameters for a run
type RunRequest struct {
	UserID  string
	StoryID string
	Mode    prompt.Mode
	Message string
	// Context is the caller-supplied story context. When nil it is loaded from
	// storage for ChapterIndex.
	Context      *prompt.StoryContext
	ChapterIndex int
	// RequestedModel is honored only for premium-eligible users.
	RequestedModel string
	SessionType    string
	// SaveUserTurn persists Message to the story history once admitted,
	// ahead of the assistant turn.
	SaveUserTurn bool
}

// New creates a new runner
func New(cfg Config, deps Deps) *Runner {
	return &Runner{cfg: cfg.withDefaults(), deps: deps}
}

// Wait blocks until detached post-processing has finished.
func (r *Runner) Wait() {
	r.bg.Wait()
}

// runState is the in-memory state of one request.
type runState struct {
	req       *RunRequest
	adm       *quota.Admission
	system    string
	messages  []ai.Message
	excluded  map[string]bool
	current   string
	requested string
	usage     ai.Usage
	maxTokens int
}

// Run admits the request, builds the prompt and starts the loop. Admission and
// validation errors are returned directly; everything after that arrives on
// the channel, which is closed when the request is finished.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (<-chan Event, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if req.Mode == "" {
		req.Mode = prompt.ModeNarrative
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if err := req.Context.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.SessionType == "" {
		req.SessionType = "chat"
	}

	adm, err := r.deps.Ledger.AdmitGeneration(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	sc := req.Context
	if sc == nil && req.StoryID != "" {
		sc, err = r.deps.Prompts.LoadContext(ctx, req.StoryID, req.ChapterIndex)
		if err != nil {
			return nil, fmt.Errorf("load story context: %w", err)
		}
	}
	chapterWords, index := 0, req.ChapterIndex
	if sc != nil && sc.Chapter != nil {
		chapterWords = action.Words(sc.Chapter.Content)
		index = sc.ChapterIndex()
	}
	if err := r.deps.Ledger.AdmitContext(adm.Effective, index, chapterWords); err != nil {
		return nil, err
	}

	var history []ai.Message
	var summary string
	if req.StoryID != "" {
		history, summary, err = r.deps.Prompts.History(ctx, req.StoryID, req.Message)
		if err != nil {
			return nil, err
		}
	}

	st := &runState{
		req:       req,
		adm:       adm,
		system:    r.deps.Prompts.System(req.Mode, sc, summary, adm.Effective),
		messages:  append(history, ai.Message{Role: ai.RoleUser, Content: req.Message}),
		excluded:  make(map[string]bool),
		requested: req.RequestedModel,
		maxTokens: r.cfg.MaxTokens,
	}
	if adm.Effective.IsFree() {
		st.maxTokens = r.cfg.MaxTokensFree
	}

	logging.Infof("[Runner] Run: user=%s story=%s tier=%s mode=%s history=%d",
		req.UserID, req.StoryID, adm.Effective, req.Mode, len(history))

	if req.SaveUserTurn && req.StoryID != "" {
		if _, err := r.deps.History.AppendTurn(ctx, req.StoryID, ai.RoleUser, req.Message); err != nil {
			logging.Errorf("[Runner] Saving user turn for story %s failed: %v", req.StoryID, err)
		}
	}

	out := make(chan Event, 32)
	go r.runLoop(ctx, st, out)
	return out, nil
}

// runLoop is the main agentic execution loop
func (r *Runner) runLoop(parent context.Context, st *runState, out chan<- Event) {
	defer close(out)
	ctx, cancel := context.WithTimeout(parent, r.cfg.RequestTimeout)
	defer cancel()
	if st.req.StoryID != "" {
		ctx = tools.WithStory(ctx, st.req.StoryID)
	}
	em := &emitter{ctx: ctx, out: out}

	var lastText string
	for turn := 1; turn <= r.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			logging.Infof("[Runner] Request for user=%s stopped: %v", st.req.UserID, ctx.Err())
			return
		}
		logging.Debugf("[Runner] === Turn %d ===", turn)

		resp, model, err := r.callWithFailover(ctx, st, em)
		if err != nil {
			if ctx.Err() != nil {
				logging.Infof("[Runner] Request for user=%s stopped: %v", st.req.UserID, ctx.Err())
				if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
					em.error("request timed out")
				}
				return
			}
			logging.Errorf("[Runner] user=%s: %v", st.req.UserID, err)
			em.error(err.Error())
			r.detach(func(ctx context.Context) { r.billFailure(ctx, st, err) })
			return
		}
		st.addUsage(resp.Usage)
		st.current = model

		if len(resp.ToolCalls) == 0 {
			content := resp.Content()
			for _, chunk := range resp.Chunks {
				if !em.content(chunk) {
					return
				}
			}
			r.detach(func(ctx context.Context) { r.finish(ctx, st, model, content) })
			return
		}

		if text := resp.Content(); strings.TrimSpace(text) != "" {
			lastText = text
		}
		st.messages = append(st.messages, ai.Message{
			Role:      ai.RoleAssistant,
			Content:   resp.Content(),
			ToolCalls: resp.ToolCalls,
		})
		if !r.dispatchTools(ctx, st, resp.ToolCalls, em) {
			return
		}
	}

	// Turn cap reached while the model kept calling tools.
	logging.Warnf("[Runner] user=%s hit the %d turn cap", st.req.UserID, r.cfg.MaxTurns)
	if strings.TrimSpace(lastText) == "" {
		em.error("the assistant could not finish this request, please try again")
		return
	}
	if !em.content(lastText) {
		return
	}
	model := st.current
	r.detach(func(ctx context.Context) { r.finish(ctx, st, model, lastText) })
}

// dispatchTools runs each tool call and appends its result turn. It returns
// false when the request was cancelled.
func (r *Runner) dispatchTools(ctx context.Context, st *runState, calls []ai.ToolCall, em *emitter) bool {
	for i := range calls {
		call := calls[i]
		if ctx.Err() != nil {
			return false
		}
		if !em.status(lookupStatus(call)) {
			return false
		}
		if !sleep(ctx, r.cfg.CodexLookupDelay) {
			return false
		}

		result := r.deps.Tools.Execute(ctx, &call)
		if result.Status != "" && !em.status(result.Status) {
			return false
		}
		st.messages = append(st.messages, ai.Message{
			Role:       ai.RoleTool,
			Content:    result.Content,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
	return true
}

func lookupStatus(call ai.ToolCall) string {
	switch call.Name {
	case "read_chapter":
		return "Rereading the manuscript..."
	case "read_world_entity":
		return "Consulting the codex..."
	}
	return "Looking something up..."
}

// callWithFailover tries up to CandidatesPerTurn distinct models for one turn.
func (r *Runner) callWithFailover(ctx context.Context, st *runState, em *emitter) (*ai.Response, string, error) {
	tried := 0
	for tried < r.cfg.CandidatesPerTurn {
		model := r.nextCandidate(st)
		if model == "" {
			break
		}
		if tried > 0 {
			em.status("Switching to another model...")
			if !sleep(ctx, r.cfg.ModelSwitchDelay) {
				return nil, "", ctx.Err()
			}
		}
		tried++

		resp, err := r.callModel(ctx, st, model)
		if err == nil {
			return resp, model, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if ai.IsRateLimited(err) {
			r.deps.Models.MarkRateLimited(model)
		}
		st.excluded[model] = true
		logging.Warnf("[Runner] Model %s failed (%s): %v", model, ai.ClassifyErrorReason(err), err)
	}
	return nil, "", fmt.Errorf("%w: %d model(s) failed", ErrServiceUnavailable, tried)
}

// nextCandidate prefers the model that served the previous turn, then the
// routing decision, then the registry's best healthy pool member. Returns ""
// when every option is excluded.
func (r *Runner) nextCandidate(st *runState) string {
	if st.current != "" && !st.excluded[st.current] {
		return st.current
	}
	sel := r.deps.Router.Select(string(st.adm.Effective.Canonical()), st.adm.Usage, st.requested)
	id := sel.ModelID
	if id == "" || st.excluded[id] || r.deps.Models.IsRateLimited(id) {
		id = r.deps.Models.SelectBestAvailable(sel.Pool, st.excluded).ID
	}
	if id == "" || st.excluded[id] {
		id = r.deps.Models.SelectBestAvailable(provider.PoolFree, st.excluded).ID
	}
	if id == "" || st.excluded[id] {
		return ""
	}
	return id
}

// callModel makes up to AttemptsPerModel calls to one model. Only rate limit
// errors are retried, after a linear backoff.
func (r *Runner) callModel(ctx context.Context, st *runState, model string) (*ai.Response, error) {
	req := &ai.ChatRequest{
		Model:     model,
		System:    st.system,
		Messages:  append([]ai.Message(nil), st.messages...),
		Tools:     r.deps.Tools.List(),
		MaxTokens: st.maxTokens,
	}

	attempt := 0
	op := func() (*ai.Response, error) {
		attempt++
		logging.Debugf("[Runner] Calling %s (attempt %d)", model, attempt)
		resp, err := ai.Collect(ctx, r.deps.Provider, req)
		if err == nil {
			return resp, nil
		}
		if ai.IsRateLimited(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logging.Warnf("[Runner] %s rate limited, retrying in %s: %v", model, wait, err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: r.cfg.BackoffBase}, uint64(r.cfg.AttemptsPerModel-1)),
		ctx,
	)
	return backoff.RetryNotifyWithData(op, b, notify)
}

// linearBackOff waits base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

func (st *runState) addUsage(u ai.Usage) {
	st.usage.InputTokens += u.InputTokens
	st.usage.OutputTokens += u.OutputTokens
}

// detach runs fn after the response was delivered, outside the request's
// cancellation, with its own timeout.
func (r *Runner) detach(fn func(ctx context.Context)) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logging.Errorf("[Runner] Post-processing PANIC recovered: %v", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PostProcessTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// finish persists the assistant turn, records usage, bills, and triggers
// summarization. Each step logs its own failure and does not stop the next.
func (r *Runner) finish(ctx context.Context, st *runState, model, content string) {
	req := st.req
	start := time.Now()

	persisted := false
	if req.StoryID != "" {
		if _, err := r.deps.History.AppendTurn(ctx, req.StoryID, ai.RoleAssistant, content); err != nil {
			logging.Errorf("[Runner] Saving assistant turn for story %s failed: %v", req.StoryID, err)
		} else {
			persisted = true
		}
	}

	words := int64(action.Words(content))
	premium := r.deps.Router.IsPremium(model)
	if err := r.deps.Ledger.RecordUsage(ctx, req.UserID, words, premium); err != nil {
		logging.Errorf("[Runner] USAGE NOT RECORDED user=%s words=%d premium=%v: %v", req.UserID, words, premium, err)
	}

	// BillGeneration logs its own failures.
	_, _ = r.deps.Ledger.BillGeneration(ctx, quota.Charge{
		UserID:         req.UserID,
		Tier:           st.adm.Effective,
		SessionType:    req.SessionType,
		ModelRequested: st.requestedOr(model),
		ModelUsed:      model,
		InputTokens:    st.usage.InputTokens,
		OutputTokens:   st.usage.OutputTokens,
		Success:        true,
	})

	if persisted && r.deps.Summarizer != nil {
		r.deps.Summarizer.Trigger(ctx, req.StoryID)
	}
	logging.Debugf("[Runner] Post-processing for user=%s done in %s", req.UserID, time.Since(start))
}

// billFailure logs a failed request in the usage log. Tokens spent on earlier
// turns are still charged.
func (r *Runner) billFailure(ctx context.Context, st *runState, cause error) {
	_, _ = r.deps.Ledger.BillGeneration(ctx, quota.Charge{
		UserID:         st.req.UserID,
		Tier:           st.adm.Effective,
		SessionType:    st.req.SessionType,
		ModelRequested: st.requestedOr(""),
		ModelUsed:      st.current,
		InputTokens:    st.usage.InputTokens,
		OutputTokens:   st.usage.OutputTokens,
		Success:        false,
		ErrorMessage:   cause.Error(),
	})
}

func (st *runState) requestedOr(fallback string) string {
	if st.requested != "" {
		return st.requested
	}
	return fallback
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
