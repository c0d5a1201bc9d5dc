package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/ai/format"
	"github.com/hrygo/productsense/ai/memory"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/logging"
	"github.com/hrygo/productsense/ai/observability/tracing"
	"github.com/hrygo/productsense/store"
)

// DataSource is the persistence a run reads from and finalizes into.
// *store.Store satisfies it.
type DataSource interface {
	GetUser(ctx context.Context, id int32) (*store.User, error)
	GetProduct(ctx context.Context, id int32) (*store.Product, error)
	ListVariants(ctx context.Context, productID int32) ([]*store.Variant, error)
	GetPersonalizedSection(ctx context.Context, productID, userID int32) (*store.PersonalizedSection, error)
	UpsertPersonalizedSection(ctx context.Context, upsert *store.PersonalizedSection) (*store.PersonalizedSection, error)
	CreateTraceSpans(ctx context.Context, spans []*store.TraceSpan) error
}

// Agents are the six model-backed roles of a run.
type Agents struct {
	Planner         Agent
	Personalization Agent
	Reviews         Agent
	Inventory       Agent
	Evaluation      Agent
	Presentation    Agent
}

func (a Agents) validate() error {
	for name, agent := range map[AgentName]Agent{
		AgentPlanning:        a.Planner,
		AgentPersonalization: a.Personalization,
		AgentReviews:         a.Reviews,
		AgentInventory:       a.Inventory,
		AgentEvaluation:      a.Evaluation,
		AgentPresentation:    a.Presentation,
	} {
		if agent == nil {
			return fmt.Errorf("agent %s is not configured", name)
		}
	}
	return nil
}

// Config tunes the engine.
type Config struct {
	// RunTimeout bounds a whole run, setup through presentation.
	RunTimeout time.Duration
	// AgentTimeout is the default per-node bound.
	AgentTimeout time.Duration
	// AgentTimeouts overrides AgentTimeout per agent.
	AgentTimeouts map[AgentName]time.Duration
	// MaxReviewAttempts bounds reviews passes in fault-correction mode.
	MaxReviewAttempts int
	// PlanRules are CEL rules ("expr => agent") applied after planning.
	PlanRules []string
	// MemoryLimit caps recalled preferences per run.
	MemoryLimit int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RunTimeout:        3 * time.Minute,
		AgentTimeout:      DefaultAgentTimeout,
		MaxReviewAttempts: DefaultMaxReviewAttempts,
		MemoryLimit:       10,
	}
}

// Orchestrator runs INIT -> PLANNING -> FAN_OUT -> JOIN -> PRESENT -> FINALIZE
// for one (user, product) pair per call. It holds no per-run state.
type Orchestrator struct {
	data      DataSource
	memory    memory.Store
	planner   *Planner
	executor  *Executor
	presenter *Presenter
	config    Config
	metrics   *metrics.PrometheusExporter
}

// New wires the engine. A nil mem disables long-term memory.
func New(data DataSource, mem memory.Store, agents Agents, config Config, exporter *metrics.PrometheusExporter) (*Orchestrator, error) {
	if err := agents.validate(); err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.MemoryLimit <= 0 {
		config.MemoryLimit = defaults.MemoryLimit
	}
	if mem == nil {
		mem = memory.NoOp{}
	}

	overrides := []PlanOverride{FaultCorrectionOverride{}}
	if len(config.PlanRules) > 0 {
		rules, err := NewRuleOverride(config.PlanRules)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, rules)
	}

	invoker := NewInvoker(config.AgentTimeout, config.AgentTimeouts, exporter)
	loop := NewReviewsLoop(agents.Reviews, agents.Evaluation, invoker, config.MaxReviewAttempts, exporter)
	nodes := map[AgentName]TaskNode{
		AgentPersonalization: PersonalizationNode(invoker, agents.Personalization),
		AgentReviews:         ReviewsNode(loop),
		AgentInventory:       InventoryNode(invoker, agents.Inventory),
	}

	return &Orchestrator{
		data:      data,
		memory:    mem,
		planner:   NewPlanner(agents.Planner, invoker, overrides...),
		executor:  NewExecutor(nodes),
		presenter: NewPresenter(agents.Presentation, invoker),
		config:    config,
		metrics:   exporter,
	}, nil
}

// Run executes one run to completion and finalizes the stored section.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	return o.run(ctx, req, "sync", nil)
}

// RunStream executes one run in the background and streams its events. The
// last value is always nil, after which the channel is closed. ctx only scopes
// delivery: once it is cancelled events are dropped, while the run itself
// continues under RunTimeout and finalizes.
func (o *Orchestrator) RunStream(ctx context.Context, in *Request) <-chan *Event {
	req := *in
	if req.TraceID == "" {
		req.TraceID = tracing.NewTraceID()
	}
	d := NewEventDispatcher(ctx, req.TraceID, 16)
	go func() {
		defer d.Close()
		d.Send(NewEvent(EventWorkflow, req.ProductID, map[string]any{
			"message":  "Your personalized section is being generated",
			"trace_id": req.TraceID,
		}))
		result, err := o.run(context.WithoutCancel(ctx), &req, "stream", d.Send)
		if err != nil {
			d.Send(NewEvent(EventError, req.ProductID, map[string]any{"message": err.Error()}))
			return
		}
		d.Send(NewEvent(EventWorkflow, req.ProductID, map[string]any{
			"personalization": result.Section.Personalization,
			"trace_id":        result.TraceID,
		}))
	}()
	return d.Events()
}

func (o *Orchestrator) run(ctx context.Context, req *Request, mode string, emit func(*Event)) (*Result, error) {
	if emit == nil {
		emit = func(*Event) {}
	}
	start := time.Now()
	o.metrics.RunStarted()

	traceID := req.TraceID
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	rec := tracing.NewRecorder(traceID)
	ctx = tracing.WithRecorder(ctx, rec)
	ctx = logging.WithTrace(ctx, traceID)
	logger := logging.FromContext(ctx)

	runCtx, cancel := context.WithTimeout(ctx, o.config.RunTimeout)
	defer cancel()
	runCtx, span := tracing.StartSpan(runCtx, tracing.SpanRun)

	logger.Info("orchestrator: run started",
		"user_id", req.UserID,
		"product_id", req.ProductID,
		"fault_correction", req.FaultCorrection,
	)
	result, err := o.execute(runCtx, req, traceID, emit)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", ErrRunTimeout, err)
	}
	span.End(err)

	// Finalize survives caller cancellation so the row never stays in-progress.
	// Runs for a missing user or product have no row to finalize.
	detached := context.WithoutCancel(ctx)
	if !errors.Is(err, ErrNotFound) {
		if ferr := o.finalize(detached, req, traceID, result, err); ferr != nil && err == nil {
			err = &RunError{Stage: StageFinalize, Err: ferr}
			result = nil
		}
	}
	if ferr := rec.Flush(detached, o.data); ferr != nil {
		logger.Warn("orchestrator: failed to persist trace spans", "error", ferr)
	}

	outcome := "done"
	switch {
	case errors.Is(err, ErrRunTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "failed"
	}
	o.metrics.RecordRun(mode, outcome, time.Since(start))

	if err != nil {
		logger.Error("orchestrator: run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	logger.Info("orchestrator: run completed",
		"plan", result.Plan.Strings(),
		"cards", len(result.Section.Personalization),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, req *Request, traceID string, emit func(*Event)) (*Result, error) {
	wc, previous, err := o.setup(ctx, req, traceID, emit)
	if err != nil {
		return nil, err
	}
	ctx = WithWorkflow(ctx, wc)

	plan, err := o.planner.Plan(ctx, wc)
	if err != nil {
		return nil, &RunError{Stage: StagePlanning, Agent: AgentPlanning, Err: err}
	}
	wc.Triggered = plan

	results, err := o.executor.Execute(ctx, wc, plan, func(r TaskResult) {
		emit(NewEvent(EventWorkflow, wc.ProductID, map[string]any{
			"agent":     string(r.Agent),
			"timed_out": r.TimedOut,
			"trace_id":  traceID,
		}))
	})
	if err != nil {
		return nil, err
	}

	section, err := o.presenter.Merge(ctx, wc, results, previous)
	if err != nil {
		return nil, &RunError{Stage: StagePresent, Agent: AgentPresentation, Err: err}
	}

	_, done := tracing.StartSpan(ctx, tracing.SpanComplete)
	done.SetAttr(tracing.AttrOutput, format.JSON(section))
	done.End(nil)

	return &Result{Section: section, TraceID: traceID, Plan: plan, Results: results}, nil
}

// setup loads the run inputs and updates long-term memory. Memory failures
// are logged and ignored.
func (o *Orchestrator) setup(ctx context.Context, req *Request, traceID string, emit func(*Event)) (*WorkflowContext, *cards.Section, error) {
	logger := logging.FromContext(ctx)
	initErr := func(err error) error { return &RunError{Stage: StageInit, Err: err} }

	user, err := o.data.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, initErr(err)
	}
	if user == nil {
		return nil, nil, initErr(notFound("user", req.UserID))
	}
	product, err := o.data.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, nil, initErr(err)
	}
	if product == nil {
		return nil, nil, initErr(notFound("product", req.ProductID))
	}
	variants, err := o.data.ListVariants(ctx, req.ProductID)
	if err != nil {
		return nil, nil, initErr(err)
	}

	var previous *cards.Section
	stored, err := o.data.GetPersonalizedSection(ctx, req.ProductID, req.UserID)
	if err != nil {
		return nil, nil, initErr(err)
	}
	if stored != nil {
		if previous, err = cards.Decode(stored.Personalization); err != nil {
			logger.Warn("orchestrator: ignoring unreadable previous section", "error", err)
			previous = nil
		}
	}

	if req.UserMessage != "" {
		addCtx, span := tracing.StartSpan(ctx, tracing.SpanMemoryAdd)
		span.SetAttr(tracing.AttrInput, req.UserMessage)
		added, err := o.memory.Add(addCtx, req.UserID, req.UserMessage)
		span.End(err)
		switch {
		case err != nil:
			logger.Warn("orchestrator: memory add failed", "error", err)
		case len(added) > 0:
			emit(NewEvent(EventMemory, req.ProductID, map[string]any{"message": "Memory updated!"}))
		}
	}

	searchCtx, span := tracing.StartSpan(ctx, tracing.SpanMemorySearch)
	recalled, err := o.memory.Search(searchCtx, req.UserID, memory.PreferenceQuery, o.config.MemoryLimit)
	span.End(err)
	if err != nil {
		logger.Warn("orchestrator: memory search failed", "error", err)
		recalled = nil
	}

	wc := &WorkflowContext{
		UserID:          req.UserID,
		ProductID:       req.ProductID,
		UserMessage:     req.UserMessage,
		FaultCorrection: req.FaultCorrection,
		TraceID:         traceID,
		User: UserProfile{
			FirstName:            user.FirstName,
			Gender:               user.Gender,
			Age:                  user.Age,
			Location:             user.Location,
			Hobbies:              user.Hobbies,
			LifestylePreferences: user.LifestylePreferences,
			SearchHistory:        user.SearchHistory,
			UserPreferences:      memory.Texts(recalled),
		},
		Product: ProductInfo{
			Name:        product.Name,
			Category:    product.Category,
			Price:       product.Price,
			Brand:       product.Brand,
			Description: product.Description,
		},
		Variants: format.Variants(variants),
	}
	return wc, previous, nil
}

// finalize records the terminal state. A failed run keeps the previously
// stored cards.
func (o *Orchestrator) finalize(ctx context.Context, req *Request, traceID string, result *Result, runErr error) error {
	upsert := &store.PersonalizedSection{
		ProductID: req.ProductID,
		UserID:    req.UserID,
		Status:    store.SectionStatusFailed,
		TraceID:   traceID,
	}
	if runErr == nil {
		raw, err := result.Section.Encode()
		if err != nil {
			return err
		}
		upsert.Personalization = raw
		upsert.Status = store.SectionStatusDone
	}
	if _, err := o.data.UpsertPersonalizedSection(ctx, upsert); err != nil {
		logging.FromContext(ctx).Error("orchestrator: failed to finalize section",
			"status", upsert.Status,
			"error", err,
		)
		return err
	}
	return nil
}
