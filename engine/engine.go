// Package engine orchestrates one answer run: fan out the memory,
// file, and retrieval branches on the shared pool, join them, assemble
// the bounded context, generate, and queue the turn writes. Branch
// failures degrade to empty contributions; generation is always
// attempted with whatever context survived.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/assembler"
	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/generation"
	"github.com/medcortex/medcortex/ingest"
	"github.com/medcortex/medcortex/memory"
	"github.com/medcortex/medcortex/metrics"
	"github.com/medcortex/medcortex/pool"
	"github.com/medcortex/medcortex/retrieval"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// Branch names as they appear in logs and the aggregate error field.
const (
	branchMemory     = "memory"
	branchFiles      = "files"
	branchRetrieval  = "retrieval"
	branchGeneration = "generation"
)

type Engine struct {
	cfg       config.EngineConfig
	memory    *memory.Manager
	retrieval *retrieval.Coordinator
	ingestor  *ingest.Ingestor
	assembler *assembler.Assembler
	driver    generation.Driver
	pool      *pool.Pool
	log       *zap.Logger
}

func New(cfg config.EngineConfig, mem *memory.Manager, coord *retrieval.Coordinator, ing *ingest.Ingestor, driver generation.Driver, workers *pool.Pool, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		memory:    mem,
		retrieval: coord,
		ingestor:  ing,
		assembler: assembler.New(cfg.MaxContextLength),
		driver:    driver,
		pool:      workers,
		log:       log,
	}
}

// run is one answer's working state. Branches write through complete
// and degrade, which serialize against the join and the assemble
// snapshot.
type run struct {
	req     schema.AnswerRequest
	session schema.Session
	log     *zap.Logger

	mu        sync.Mutex
	recall    memory.Recall
	files     string
	retrieved retrieval.Result
	finished  map[string]bool
	errs      *multierror.Error
}

func newRun(req schema.AnswerRequest, log *zap.Logger) *run {
	return &run{
		req:     req,
		session: req.Session(),
		log: log.With(
			zap.String("run_id", uuid.NewString()),
			zap.String("conversation_id", req.ConversationID),
			zap.Int("subject_id", req.SubjectID)),
		finished: make(map[string]bool),
	}
}

func (r *run) advance(s State) {
	r.log.Debug("run state", zap.Stringer("state", s))
}

// complete records a branch outcome. Success and failure both count as
// finished; only a branch that never reported is a timeout casualty.
func (r *run) complete(branch string, apply func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if apply != nil {
		apply()
	}
	r.finished[branch] = true
}

func (r *run) degrade(branch string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = multierror.Append(r.errs, &BranchError{Branch: branch, Err: err})
}

func (r *run) degradeSource(se *retrieval.SourceError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = multierror.Append(r.errs, se)
}

func (r *run) timedOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = multierror.Append(r.errs, ErrTimeout)
}

func (r *run) snapshotErrs() *multierror.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

// Answer runs the full state machine and blocks until the answer is
// complete. The returned error is non-nil only for an invalid request;
// every scheduled run reaches Done and reports degradations through
// the result's error field instead.
func (e *Engine) Answer(ctx context.Context, req schema.AnswerRequest) (schema.AnswerResult, error) {
	return e.answer(ctx, req, nil)
}

// AnswerStream behaves like Answer but emits the answer incrementally
// through handler while it is generated. The result carries the full
// accumulated answer.
func (e *Engine) AnswerStream(ctx context.Context, req schema.AnswerRequest, handler generation.StreamHandler) (schema.AnswerResult, error) {
	return e.answer(ctx, req, handler)
}

func (e *Engine) answer(ctx context.Context, req schema.AnswerRequest, handler generation.StreamHandler) (schema.AnswerResult, error) {
	if err := req.Validate(); err != nil {
		metrics.IncInvalidRequest()
		return schema.AnswerResult{Err: err.Error()}, err
	}

	start := time.Now()
	r := newRun(req, e.log)
	r.advance(StateStart)

	r.advance(StateGather)
	e.gather(ctx, r)

	r.advance(StateAssemble)
	contextText, report := e.assemble(r)

	r.advance(StateGenerate)
	answer := e.generate(ctx, r, contextText, handler)

	r.advance(StatePersist)
	e.queuePersist(r, answer)

	r.advance(StateDone)
	result := schema.AnswerResult{
		Answer:            answer,
		Err:               compactErrors(r.snapshotErrs()),
		ContextLengthUsed: report.Length,
	}
	outcome := "ok"
	if result.Err != "" {
		outcome = "degraded"
	}
	metrics.ObserveRun(outcome, start)
	return result, nil
}

// gather fans the three context branches out on the pool and joins
// them under the branch deadline. Branches ignore the pool's job
// context and close over the run-scoped one, so the deadline reaches
// them no matter which goroutine runs the work.
func (e *Engine) gather(ctx context.Context, r *run) {
	bctx, cancel := context.WithTimeout(ctx, e.cfg.BranchTimeout())
	defer cancel()

	group := e.pool.Group()

	group.Go(bctx, branchMemory, func(context.Context) error {
		start := time.Now()
		recall, err := e.memory.Process(bctx, r.session, r.req.Question)
		metrics.ObserveBranch(branchMemory, start, err != nil)
		r.complete(branchMemory, func() {
			if err == nil {
				r.recall = recall
			}
		})
		return err
	}, func(err error) { r.degrade(branchMemory, err) })

	group.Go(bctx, branchFiles, func(context.Context) error {
		start := time.Now()
		content, err := e.ingestor.Ingest(bctx, r.req.FileHandles)
		metrics.ObserveBranch(branchFiles, start, err != nil)
		// Readable files still contribute alongside the error.
		r.complete(branchFiles, func() { r.files = content })
		return err
	}, func(err error) { r.degrade(branchFiles, err) })

	group.Go(bctx, branchRetrieval, func(context.Context) error {
		res := e.retrieval.Gather(bctx, retriever.Query{
			Text:           r.req.Question,
			SubjectID:      r.req.SubjectID,
			ConversationID: r.req.ConversationID,
		})
		r.complete(branchRetrieval, func() { r.retrieved = res })
		for _, se := range res.Degraded {
			r.degradeSource(se)
		}
		return nil
	}, nil)

	if err := group.Wait(bctx); err == nil {
		return
	}

	// Deadline passed with branches still out. Contributions that did
	// arrive stay; what follows depends on whether anything arrived.
	r.mu.Lock()
	finished := len(r.finished)
	var missing []string
	for _, branch := range []string{branchMemory, branchFiles, branchRetrieval} {
		if !r.finished[branch] {
			missing = append(missing, branch)
		}
	}
	r.mu.Unlock()

	if finished == 0 {
		r.timedOut()
		return
	}
	for _, branch := range missing {
		r.degrade(branch, context.DeadlineExceeded)
	}
}

// assemble snapshots the branch contributions under the run lock, so a
// branch finishing after the deadline cannot tear the input.
func (e *Engine) assemble(r *run) (string, assembler.Report) {
	r.mu.Lock()
	in := assembler.Input{
		Expert:   r.retrieved.Expert,
		Memory:   r.recall.Text(),
		Files:    r.files,
		Personal: r.retrieved.Personal,
	}
	r.mu.Unlock()

	contextText, report := e.assembler.Assemble(in)
	metrics.ObserveAssembly(report.Length, report.Truncated, len(report.DroppedParts))
	if report.Truncated || len(report.DroppedParts) > 0 {
		r.log.Debug("context budget exhausted",
			zap.Bool("truncated", report.Truncated),
			zap.Strings("dropped", report.DroppedParts))
	}
	return contextText, report
}

func (e *Engine) generate(ctx context.Context, r *run, contextText string, handler generation.StreamHandler) string {
	mode := "blocking"
	if handler != nil {
		mode = "streaming"
	}
	greq := generation.Request{
		Question: r.req.Question,
		Context:  contextText,
		Role:     r.req.UserRole,
	}

	start := time.Now()
	var answer string
	var err error
	if handler != nil {
		answer, err = e.driver.Stream(ctx, greq, handler)
	} else {
		answer, err = e.driver.Generate(ctx, greq)
	}
	metrics.ObserveGeneration(mode, start)
	if answer != "" {
		metrics.ObserveAnswerTokens(assembler.EstimateTokens(answer))
	}
	if err != nil {
		r.log.Warn("generation failed", zap.Error(err))
		r.degrade(branchGeneration, err)
	}
	return answer
}

// queuePersist hands the turn writes to the pool so the answer returns
// immediately. The writes run against their own deadline; cancelling
// the caller's context does not roll back writes already queued.
func (e *Engine) queuePersist(r *run, answer string) {
	req := r.req
	job := &pool.Job{
		Name: "persist",
		Execute: func(context.Context) error {
			pctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout())
			defer cancel()
			return e.persist(pctx, req, answer)
		},
		OnError: func(err error) {
			e.log.Warn("turn persist failed",
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err))
		},
	}
	if e.pool.TrySubmit(job) {
		return
	}
	// Saturated or closed pool; the turns must still land.
	go func() {
		if err := job.Execute(context.Background()); err != nil {
			job.OnError(err)
		}
	}()
}

// persist writes the question, then the answer when one exists. The
// memory manager serializes writes per conversation.
func (e *Engine) persist(ctx context.Context, req schema.AnswerRequest, answer string) error {
	session := req.Session()
	asked := req.Timestamp
	if asked.IsZero() {
		asked = time.Now()
	}
	err := e.memory.Ingest(ctx, session, schema.Turn{
		Role:      schema.RoleUser,
		Content:   req.Question,
		Timestamp: asked,
	})
	if err != nil {
		return err
	}
	if answer == "" {
		return nil
	}
	return e.memory.Ingest(ctx, session, schema.Turn{
		Role:      schema.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	})
}
