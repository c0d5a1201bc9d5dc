// Package personalization serves personalized product sections: it reuses
// finished ones, keeps one run per (product, user) at a time, and runs the
// orchestrator otherwise.
package personalization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/tracing"
	"github.com/hrygo/productsense/store"
)

// Gate outcomes recorded in metrics.
const (
	outcomeHit  = "hit"
	outcomeWait = "wait"
	outcomeRun  = "run"
	outcomeBusy = "busy"
)

// Runner executes orchestration runs. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error)
	RunStream(ctx context.Context, req *orchestrator.Request) <-chan *orchestrator.Event
}

// Directory answers existence checks. *store.Store satisfies it.
type Directory interface {
	UserExists(ctx context.Context, id int32) (bool, error)
	ProductExists(ctx context.Context, id int32) (bool, error)
}

// Request asks for the section of one (user, product) pair.
type Request struct {
	UserID    int32
	ProductID int32
	// UserMessage steers a regeneration. Requests with a message always run.
	UserMessage string
	// FaultCorrection ignores any stored section and forces the reviews agent.
	FaultCorrection bool
}

func (r *Request) key() Key {
	return Key{ProductID: r.ProductID, UserID: r.UserID}
}

// Response is a served section.
type Response struct {
	Personalization []cards.Card        `json:"personalization"`
	TraceID         string              `json:"trace_id"`
	Status          store.SectionStatus `json:"status"`
}

// Service is the entry point for personalization runs.
type Service struct {
	runner    Runner
	gate      *Gate
	directory Directory
	group     singleflight.Group
	metrics   *metrics.PrometheusExporter
}

// NewService creates a Service.
func NewService(runner Runner, gate *Gate, directory Directory, exporter *metrics.PrometheusExporter) *Service {
	return &Service{
		runner:    runner,
		gate:      gate,
		directory: directory,
		metrics:   exporter,
	}
}

// Get returns the stored section of key, or nil when there is none.
func (s *Service) Get(ctx context.Context, key Key) (*store.PersonalizedSection, error) {
	return s.gate.Get(ctx, key)
}

// Reset clears stored sections and user memories.
func (s *Service) Reset(ctx context.Context) error {
	return s.gate.Reset(ctx)
}

// Personalize serves the section for req. A finished section is reused unless
// fault correction is requested; a running one is waited on; otherwise this
// call takes the key's lease and runs. Concurrent callers in this process
// with the same request share one flight. The run itself is not cancelled
// when ctx is.
func (s *Service) Personalize(ctx context.Context, req *Request) (*Response, error) {
	if err := s.checkExists(ctx, req); err != nil {
		return nil, err
	}

	flight := fmt.Sprintf("%s:fc=%t:msg=%q", req.key(), req.FaultCorrection, req.UserMessage)
	ch := s.group.DoChan(flight, func() (any, error) {
		return s.personalize(context.WithoutCancel(ctx), req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	}
}

func (s *Service) personalize(ctx context.Context, req *Request) (*Response, error) {
	key := req.key()
	section, err := s.gate.GetOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load section: %w", err)
	}

	if !req.FaultCorrection && req.UserMessage == "" {
		if resp := reusable(section); resp != nil {
			s.metrics.RecordGate(outcomeHit)
			return resp, nil
		}
		if section.Status == store.SectionStatusInProgress {
			if resp, err := s.waitFor(ctx, key); resp != nil || err != nil {
				return resp, err
			}
		}
	}

	traceID := tracing.NewTraceID()
	claimed, err := s.gate.Claim(ctx, key, traceID)
	if err != nil {
		return nil, fmt.Errorf("claim section: %w", err)
	}
	if !claimed {
		// Lost the race to another process: wait once more, then give up.
		resp, err := s.waitFor(ctx, key)
		if resp != nil || err != nil {
			return resp, err
		}
		s.metrics.RecordGate(outcomeBusy)
		return nil, ErrInProgress
	}

	s.metrics.RecordGate(outcomeRun)
	result, err := s.runner.Run(ctx, &orchestrator.Request{
		UserID:          req.UserID,
		ProductID:       req.ProductID,
		UserMessage:     req.UserMessage,
		FaultCorrection: req.FaultCorrection,
		TraceID:         traceID,
	})
	s.gate.Forget(key)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			s.release(ctx, key, traceID)
		}
		return nil, err
	}
	return &Response{
		Personalization: result.Section.Personalization,
		TraceID:         result.TraceID,
		Status:          store.SectionStatusDone,
	}, nil
}

// RunStream always regenerates the section, streaming the run's events. A run
// held by someone else is reported as an error event.
func (s *Service) RunStream(ctx context.Context, in *orchestrator.Request) <-chan *orchestrator.Event {
	req := *in
	if req.TraceID == "" {
		req.TraceID = tracing.NewTraceID()
	}
	key := Key{ProductID: req.ProductID, UserID: req.UserID}

	fail := func(err error) <-chan *orchestrator.Event {
		d := orchestrator.NewEventDispatcher(ctx, req.TraceID, 2)
		go func() {
			defer d.Close()
			d.Send(orchestrator.NewEvent(orchestrator.EventError, req.ProductID, map[string]any{"message": err.Error()}))
		}()
		return d.Events()
	}

	if err := s.checkExists(ctx, &Request{UserID: req.UserID, ProductID: req.ProductID}); err != nil {
		return fail(err)
	}
	claimed, err := s.gate.Claim(ctx, key, req.TraceID)
	if err != nil {
		return fail(fmt.Errorf("claim section: %w", err))
	}
	if !claimed {
		s.metrics.RecordGate(outcomeBusy)
		return fail(ErrInProgress)
	}
	s.metrics.RecordGate(outcomeRun)

	events := s.runner.RunStream(ctx, &req)
	out := make(chan *orchestrator.Event)
	go func() {
		defer close(out)
		defer s.gate.Forget(key)
		for e := range events {
			select {
			case out <- e:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// Prewarm runs the section for key unless it is already done or running.
// retrigger forces a run with fault correction.
func (s *Service) Prewarm(ctx context.Context, key Key, retrigger bool) error {
	section, err := s.gate.Get(ctx, key)
	if err != nil {
		return err
	}
	if !retrigger && section != nil &&
		(section.Status == store.SectionStatusDone || section.Status == store.SectionStatusInProgress) {
		return nil
	}
	_, err = s.Personalize(ctx, &Request{UserID: key.UserID, ProductID: key.ProductID, FaultCorrection: retrigger})
	return err
}

func (s *Service) waitFor(ctx context.Context, key Key) (*Response, error) {
	section, settled, err := s.gate.Wait(ctx, key)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, nil
	}
	if resp := reusable(section); resp != nil {
		s.metrics.RecordGate(outcomeWait)
		return resp, nil
	}
	return nil, nil
}

func (s *Service) checkExists(ctx context.Context, req *Request) error {
	ok, err := s.directory.UserExists(ctx, req.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d: %w", req.UserID, orchestrator.ErrNotFound)
	}
	ok, err = s.directory.ProductExists(ctx, req.ProductID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("product %d: %w", req.ProductID, orchestrator.ErrNotFound)
	}
	return nil
}

// release marks a claimed key failed when the run never reached finalize.
func (s *Service) release(ctx context.Context, key Key, traceID string) {
	if _, err := s.gate.Upsert(ctx, &store.PersonalizedSection{
		ProductID: key.ProductID,
		UserID:    key.UserID,
		Status:    store.SectionStatusFailed,
		TraceID:   traceID,
	}); err != nil {
		slog.Warn("personalization: failed to release section", "key", key.String(), "error", err)
	}
}

// reusable returns the stored section as a response when it is done and
// decodes to at least one card.
func reusable(section *store.PersonalizedSection) *Response {
	if section == nil || section.Status != store.SectionStatusDone {
		return nil
	}
	decoded, err := cards.Decode(section.Personalization)
	if err != nil || decoded == nil || len(decoded.Personalization) == 0 {
		return nil
	}
	return &Response{
		Personalization: decoded.Personalization,
		TraceID:         section.TraceID,
		Status:          section.Status,
	}
}
