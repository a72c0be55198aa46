package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/assetvault/internal/profile"
	"github.com/hrygo/assetvault/plugin/ai"
	"github.com/hrygo/assetvault/plugin/ai/cache"
	"github.com/hrygo/assetvault/plugin/ai/vector"
	"github.com/hrygo/assetvault/plugin/queue"
	"github.com/hrygo/assetvault/plugin/storage"
	"github.com/hrygo/assetvault/server/internal/observability"
	"github.com/hrygo/assetvault/server/middleware"
	apiv1 "github.com/hrygo/assetvault/server/router/api/v1"
	"github.com/hrygo/assetvault/server/runner/embedding"
	"github.com/hrygo/assetvault/server/service/search"
	"github.com/hrygo/assetvault/store"
)

const queryCacheSweepInterval = time.Minute

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	backends   *Backends
	runner     *embedding.Runner
	queryCache *cache.EmbeddingCache
	echoServer *echo.Echo

	runnerCancelFuncs []context.CancelFunc
	runnerWG          sync.WaitGroup
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	backends, err := OpenBackends(ctx, profile, store)
	if err != nil {
		return nil, err
	}
	if backends.Embedder == nil {
		backends.Close()
		return nil, errors.New("embedding provider is not configured, set ASSETVAULT_EMBEDDING_API_KEY")
	}

	s := &Server{
		Profile:  profile,
		Store:    store,
		backends: backends,
		runner: embedding.NewRunner(backends.Queue, backends.Pipeline, backends.Metrics,
			profile.ConsumerConcurrency, profile.ConsumerBatchSize),
	}

	echoServer := echo.New()
	echoServer.Debug = profile.Mode == "dev"
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		TargetHeader: echo.HeaderXRequestID,
	}))
	s.echoServer = echoServer

	// The query cache only fronts search; the pipeline embeds fresh text every time.
	queryEmbedder := cache.NewEmbeddingCache(backends.Embedder, profile.QueryCacheSize,
		time.Duration(profile.QueryCacheTTLMinute)*time.Minute).
		OnLookup(func(hit bool) {
			if hit {
				backends.Metrics.RecordCacheHit("query_embedding")
			} else {
				backends.Metrics.RecordCacheMiss("query_embedding")
			}
		})
	s.queryCache = queryEmbedder
	searchService := search.NewService(store, queryEmbedder, backends.Index, backends.Objects, backends.Metrics)

	apiV1Service := apiv1.NewAPIV1Service(profile, backends.Pipeline, searchService, backends.Metrics)
	apiV1Service.Ping = func(ctx context.Context) error {
		return store.GetDriver().GetDB().PingContext(ctx)
	}
	apiV1Service.RegisterRoutes(echoServer, middleware.NewRateLimiter(profile.SearchRateLimit))
	if profile.StorageBackend == "local" {
		echoServer.Static("/file", LocalAssetDir(profile))
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	go func() {
		if err := s.echoServer.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	s.StartBackgroundRunners(ctx)

	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	// Cancel all background runners
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}

	// Shutdown echo server.
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	// In-flight messages are released back to the queue before it closes.
	if !s.waitForRunners(ctx) {
		slog.Warn("background runners did not stop before the shutdown deadline")
	}

	s.backends.Close()

	// Close database connection.
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}

	slog.Info("server stopped")
}

func (s *Server) StartBackgroundRunners(ctx context.Context) {
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	s.runnerWG.Add(2)
	go func() {
		defer s.runnerWG.Done()
		s.runner.Run(runnerCtx)
	}()
	go func() {
		defer s.runnerWG.Done()
		s.queryCache.RunJanitor(runnerCtx, queryCacheSweepInterval)
	}()
	slog.Info("embedding runner started",
		slog.Int("concurrency", s.Profile.ConsumerConcurrency),
		slog.String("queue", s.Profile.QueueBackend))
}

// waitForRunners blocks until every background runner has returned or ctx is done.
func (s *Server) waitForRunners(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.runnerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// LocalAssetDir is where local storage keeps asset objects.
func LocalAssetDir(profile *profile.Profile) string {
	return filepath.Join(profile.Data, "assets")
}

// Backends holds the external collaborators built from a profile.
type Backends struct {
	Metrics   *observability.Metrics
	Embedder  ai.EmbeddingService
	Captioner ai.CaptionService
	Index     vector.Index
	Queue     queue.Queue
	Objects   storage.ObjectStorage
	Pipeline  *embedding.Pipeline
}

// OpenBackends connects the vector index, queue and object storage selected by
// profile and assembles the embedding pipeline over them. Embedder is nil when
// no embedding provider is configured.
func OpenBackends(ctx context.Context, profile *profile.Profile, store *store.Store) (*Backends, error) {
	b := &Backends{
		Metrics: observability.NewMetrics(observability.DefaultMetricsConfig()),
	}

	aiConfig := ai.NewConfigFromProfile(profile)
	if err := aiConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid AI configuration")
	}
	if aiConfig.Enabled {
		embedder, err := ai.NewEmbeddingService(&aiConfig.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create embedding service")
		}
		b.Embedder = embedder
		if aiConfig.Caption.Enabled {
			captioner, err := ai.NewCaptionService(&aiConfig.Caption, aiConfig.Embedding.Provider)
			if err != nil {
				return nil, errors.Wrap(err, "failed to create caption service")
			}
			b.Captioner = captioner
		}
	}

	switch profile.VectorBackend {
	case "pgvector":
		index := vector.NewPGVectorIndex(store.GetDriver().GetDB(), profile.EmbeddingDimensions)
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to prepare vector index")
		}
		b.Index = index
	default:
		slog.Warn("using in-memory vector index, vectors are lost on restart")
		b.Index = vector.NewMemoryIndex(profile.EmbeddingDimensions)
	}

	switch profile.QueueBackend {
	case "redis":
		q, err := queue.NewRedisQueue(ctx, &queue.RedisConfig{
			Addr:     profile.RedisAddr,
			Password: profile.RedisPassword,
		})
		if err != nil {
			return nil, err
		}
		b.Queue = q
	default:
		b.Queue = queue.NewMemoryQueue(0)
	}

	switch profile.StorageBackend {
	case "s3":
		objects, err := storage.NewS3Storage(ctx, &storage.S3Config{
			Bucket:        profile.S3Bucket,
			Region:        profile.S3Region,
			Endpoint:      profile.S3Endpoint,
			AccessKey:     profile.S3AccessKey,
			SecretKey:     profile.S3SecretKey,
			PublicBaseURL: profile.S3PublicBaseURL,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Objects = objects
	default:
		b.Objects = storage.NewLocalStorage(LocalAssetDir(profile), profile.InstanceURL)
	}

	b.Pipeline = embedding.NewPipeline(embedding.Dependencies{
		Store:     store,
		Embedder:  b.Embedder,
		Captioner: b.Captioner,
		Index:     b.Index,
		Queue:     b.Queue,
		Objects:   b.Objects,
		Metrics:   b.Metrics,
	})
	return b, nil
}

// Close releases the queue connection.
func (b *Backends) Close() {
	if b.Queue == nil {
		return
	}
	if err := b.Queue.Close(); err != nil {
		slog.Error("failed to close queue", slog.String("error", err.Error()))
	}
}
