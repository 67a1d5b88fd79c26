// Package medcortex assembles the context orchestration engine from
// configuration. The package wires the concrete backends (Milvus knowledge
// search, OpenAI generation, Redis or in-process working memory, the SQLite
// archive) behind the engine so callers deal with one constructor, one
// answer surface and one Close.
package medcortex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/cache"
	"github.com/medcortex/medcortex/common/logger"
	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/embedding"
	"github.com/medcortex/medcortex/engine"
	"github.com/medcortex/medcortex/generation"
	"github.com/medcortex/medcortex/ingest"
	"github.com/medcortex/medcortex/memory"
	"github.com/medcortex/medcortex/pool"
	"github.com/medcortex/medcortex/retrieval"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// Client owns a fully wired engine instance together with the connections
// behind it.
type Client struct {
	cfg    config.Config
	log    *zap.Logger
	engine *engine.Engine
	memory *memory.Manager
	pool   *pool.Pool

	milvus client.Client
	redis  *memory.RedisStore
}

// New builds a client from cfg. The context bounds the external connection
// attempts made during wiring. Callers must Close the returned client to
// release the worker pool and backend connections.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("create logger failed, err: %w", err)
	}

	c := &Client{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	embedProvider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider failed, err: %w", err)
	}

	searchers, err := c.buildSearchers(ctx, embedProvider)
	if err != nil {
		return nil, err
	}

	var results *cache.Fragments
	if cfg.Cache.Enable {
		results = cache.NewFragments(cfg.Cache.MaxEntries, cfg.Cache.TTL())
	}
	coordinator := retrieval.NewCoordinator(cfg.Knowledge, searchers, results, log.Named("retrieval"))

	working, err := c.buildWorkingStore(ctx)
	if err != nil {
		return nil, err
	}

	// The archive mirrors summaries into Milvus only when the knowledge
	// backend is already a Milvus connection; otherwise recall stays
	// lexical.
	memLog := log.Named("memory")
	var index memory.VectorIndex
	if c.milvus != nil && cfg.Knowledge.Milvus.MemoryCollection != "" {
		index = memory.NewMilvusIndex(c.milvus, embedProvider, cfg.Knowledge.Milvus.MemoryCollection, memLog)
	}
	archive, err := memory.OpenArchive(cfg.Database.Path, index, memLog)
	if err != nil {
		return nil, fmt.Errorf("open memory archive failed, err: %w", err)
	}
	c.memory = memory.NewManager(working, archive, cfg.Memory.MaxTurns, cfg.Memory.RecallBudget, cfg.Memory.ArchiveTopK, memLog)

	driver, err := generation.NewDriver(cfg.Generation, log.Named("generation"))
	if err != nil {
		return nil, fmt.Errorf("create generation driver failed, err: %w", err)
	}

	c.pool = pool.New(cfg.Engine.Workers, log.Named("pool"))
	c.pool.Start()

	ingestor := ingest.New(ingest.NewLocalReader(0), log.Named("ingest"))
	c.engine = engine.New(cfg.Engine, c.memory, coordinator, ingestor, driver, c.pool, log.Named("engine"))

	ok = true
	return c, nil
}

// Answer runs one full question and answer cycle.
func (c *Client) Answer(ctx context.Context, req schema.AnswerRequest) (schema.AnswerResult, error) {
	return c.engine.Answer(ctx, req)
}

// AnswerStream runs one cycle delivering the answer incrementally through
// handler.
func (c *Client) AnswerStream(ctx context.Context, req schema.AnswerRequest, handler generation.StreamHandler) (schema.AnswerResult, error) {
	return c.engine.AnswerStream(ctx, req, handler)
}

// Recall reads the conversation memory that would back a question without
// generating an answer.
func (c *Client) Recall(ctx context.Context, session schema.Session, input string) (memory.Recall, error) {
	return c.memory.Process(ctx, session, input)
}

// Close releases the worker pool and backend connections. It is safe to
// call on a partially constructed client.
func (c *Client) Close() error {
	var merr *multierror.Error
	if c.pool != nil {
		merr = multierror.Append(merr, c.pool.Close())
	}
	if c.redis != nil {
		merr = multierror.Append(merr, c.redis.Close())
	}
	if c.milvus != nil {
		merr = multierror.Append(merr, c.milvus.Close())
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
	return merr.ErrorOrNil()
}

// buildSearchers connects the configured knowledge backend. The expert
// collection is shared across subjects; the personal collection is always
// scoped to the requesting subject.
func (c *Client) buildSearchers(ctx context.Context, embed embedding.Provider) ([]retriever.Searcher, error) {
	switch c.cfg.Knowledge.Provider {
	case "milvus":
		milvusClient, err := retriever.Connect(ctx, c.cfg.Knowledge.Milvus)
		if err != nil {
			return nil, fmt.Errorf("connect milvus failed, err: %w", err)
		}
		c.milvus = milvusClient
		retLog := c.log.Named("retriever")
		return []retriever.Searcher{
			retriever.NewMilvus(schema.SourceExpert, c.cfg.Knowledge.Milvus.ExpertCollection, milvusClient, embed, retLog),
			retriever.NewMilvus(schema.SourcePersonal, c.cfg.Knowledge.Milvus.PersonalCollection, milvusClient, embed, retLog, retriever.WithSubjectFilter()),
		}, nil
	case "static", "":
		// No backend configured: retrieval reports empty results and
		// answers lean on memory and the model alone.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown knowledge provider: %s", c.cfg.Knowledge.Provider)
	}
}

func (c *Client) buildWorkingStore(ctx context.Context) (memory.WorkingStore, error) {
	switch c.cfg.Memory.Store {
	case "redis":
		if c.cfg.Redis == nil {
			return nil, errors.New("memory store is redis but no redis section configured")
		}
		store := memory.NewRedisStore(*c.cfg.Redis, c.cfg.Memory.TTL())
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ping redis failed, err: %w", err)
		}
		c.redis = store
		return store, nil
	case "inmemory", "":
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory store: %s", c.cfg.Memory.Store)
	}
}
