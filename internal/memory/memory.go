// Package memory is the subsystem façade. A Manager owns the database
// client, composes the capability probe, schema provisioner, sync engine,
// watchers, and search dispatchers, and exposes the operations the agent
// tool surface and the CLI call.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/embed"
	"github.com/openclaw/mongomem/internal/kb"
	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/schema"
	"github.com/openclaw/mongomem/internal/search"
	"github.com/openclaw/mongomem/internal/store"
	"github.com/openclaw/mongomem/internal/structured"
	"github.com/openclaw/mongomem/internal/syncer"
	"github.com/openclaw/mongomem/internal/topology"
	"github.com/openclaw/mongomem/internal/watcher"
)

// DefaultConnectTimeout bounds the initial connection and server selection.
const DefaultConnectTimeout = 10 * time.Second

// syncEngine is the slice of the syncer the manager drives.
type syncEngine interface {
	Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error)
	TxnDisabled() bool
}

// Status is the manager's self-description.
type Status struct {
	Backend  string `json:"backend"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Tier     string `json:"tier"`
	Dirty    bool   `json:"dirty"`
	Fallback string `json:"fallback,omitempty"`
}

// Manager composes the memory subsystem for one agent. Create is the only
// constructor; a zero Manager is not usable.
type Manager struct {
	cfg     *config.Config
	agentID string
	logger  *slog.Logger

	client   *mongo.Client
	cols     *store.Collections
	topo     *topology.Topology
	features topology.Features

	embedder   embed.Embedder // nil in automated mode
	engine     syncEngine
	dispatcher *search.Dispatcher
	kbPipeline *kb.Pipeline
	structured *structured.Store

	fileWatcher *watcher.FileWatcher
	csWatcher   *watcher.ChangeStreamWatcher
	cancel      context.CancelFunc

	mu     sync.Mutex
	dirty  bool
	closed bool
}

// Create connects, probes capabilities, provisions the schema, starts the
// watchers, and runs the initial sync. It returns (nil, nil) when the
// configured backend is not mongodb; the caller treats a nil manager as
// "memory disabled".
func Create(ctx context.Context, cfg *config.Config, agentID string, logger *slog.Logger) (*Manager, error) {
	if cfg.Backend != config.BackendMongoDB {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if agentID == "" {
		agentID = "default"
	}

	clientOpts := mongooptions.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(DefaultConnectTimeout).
		SetConnectTimeout(DefaultConnectTimeout)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, memerr.New(memerr.KindConnection, "connect", err).
			WithRemediation("check the connection string and that the server is running")
	}

	m := &Manager{
		cfg:     cfg,
		agentID: agentID,
		logger:  logger,
		client:  client,
	}

	if err := m.bootstrap(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return m, nil
}

func (m *Manager) bootstrap(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := m.client.Ping(pingCtx, nil); err != nil {
		return memerr.New(memerr.KindConnection, "ping", err).
			WithRemediation(fmt.Sprintf("verify %s is reachable", config.RedactURI(m.cfg.URI)))
	}

	db := m.client.Database(m.cfg.Database)
	m.cols = store.NewCollections(db, m.cfg.CollectionPrefix)

	topo, err := topology.Detect(ctx, m.client, m.cols.Chunks)
	if err != nil {
		return err
	}
	m.topo = topo
	m.features = topo.Features()
	m.logger.Info("topology detected",
		slog.String("tier", string(topo.Tier)),
		slog.String("version", topo.ServerVersion),
		slog.Bool("search_engine", topo.HasSearchEngine))

	if err := schema.New(db, m.cols, m.cfg, topo, m.logger).Ensure(ctx); err != nil {
		return fmt.Errorf("schema provisioning failed: %w", err)
	}
	m.cacheCapabilities(ctx)

	if m.cfg.EmbeddingMode == config.EmbeddingManaged {
		inner, err := embed.NewOpenAIEmbedder(m.cfg.Embeddings, m.cfg.NumDimensions)
		if err != nil {
			return err
		}
		cached, err := embed.NewCachedEmbedder(inner, m.cols.EmbeddingCache, m.logger)
		if err != nil {
			return err
		}
		m.embedder = cached
	}

	m.dispatcher = search.New(m.cols.Chunks, m.features, search.Config{
		FusionMethod:  m.cfg.FusionMethod,
		EmbeddingMode: m.cfg.EmbeddingMode,
		Weights:       search.Weights{Vector: m.cfg.VectorWeight, Text: m.cfg.TextWeight},
		NumCandidates: m.cfg.NumCandidates,
		VectorIndex:   schema.VectorIndexName,
		SearchIndex:   schema.SearchIndexName,
	}, m.logger)

	kbDispatcher := search.New(m.cols.KBChunks, m.features, search.Config{
		FusionMethod:  m.cfg.FusionMethod,
		EmbeddingMode: m.cfg.EmbeddingMode,
		Weights:       search.Weights{Vector: m.cfg.VectorWeight, Text: m.cfg.TextWeight},
		NumCandidates: m.cfg.NumCandidates,
		VectorIndex:   schema.KBVectorIndexName,
		SearchIndex:   schema.KBSearchIndexName,
	}, m.logger)
	m.kbPipeline = kb.New(m.cols, m.cfg, m.embedder, kbDispatcher, m.logger)
	m.structured = structured.New(m.cols, m.logger)

	writer := syncer.NewWriter(m.client, m.cols, m.agentID)
	m.engine = syncer.New(syncer.Deps{
		Writer:   writer,
		Cols:     m.cols,
		Cfg:      m.cfg,
		Embedder: m.embedder,
		Features: m.features,
	}, m.logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	if err := m.startWatchers(runCtx); err != nil {
		cancel()
		return err
	}

	if _, err := m.Sync(ctx, "initial"); err != nil {
		cancel()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	m.startKBAutoImport(ctx, runCtx)
	return nil
}

// startWatchers wires the filesystem watcher and, when enabled and
// supported, the change-stream subscriber. Both mark the manager dirty and
// schedule a coalesced sync. watchCtx outlives bootstrap and is cancelled
// by Close.
func (m *Manager) startWatchers(watchCtx context.Context) error {
	paths := m.cfg.MemoryPaths()
	if m.cfg.Workspace.SessionsDir != "" {
		paths = append(paths, m.cfg.Workspace.SessionsDir)
	}
	m.fileWatcher = watcher.NewFileWatcher(
		m.cfg.Workspace.Root,
		paths,
		m.cfg.WatchDebounce(),
		m.markDirty,
		func() { m.syncInBackground("watch") },
		m.logger,
	)
	if err := m.fileWatcher.Start(watchCtx); err != nil {
		m.logger.Warn("file watcher unavailable, relying on manual sync",
			slog.String("error", err.Error()))
		m.fileWatcher = nil
	}

	if m.cfg.EnableChangeStreams && m.features.ChangeStreams {
		m.csWatcher = watcher.NewChangeStreamWatcher(
			m.cols.Chunks,
			m.cfg.ChangeStreamDebounce(),
			bson.Raw(m.loadMeta(watchCtx).ResumeToken),
			func(ev watcher.ChangeEvent) {
				m.markDirty()
				m.persistResumeToken(watchCtx, ev.ResumeToken)
				m.logger.Debug("external change observed",
					slog.String("op", ev.OperationType),
					slog.Int("paths", len(ev.Paths)))
				m.syncInBackground("change-stream")
			},
			m.logger,
		)
		if !m.csWatcher.Start(watchCtx) {
			m.csWatcher = nil
		}
	}
	return nil
}

// loadMeta fetches this agent's meta row. A missing row is a zero value,
// not an error.
func (m *Manager) loadMeta(ctx context.Context) store.MetaDoc {
	var meta store.MetaDoc
	err := m.cols.Meta.FindOne(ctx, bson.D{{Key: "_id", Value: m.agentID}}).Decode(&meta)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		m.logger.Debug("failed to load meta row", slog.String("error", err.Error()))
	}
	return meta
}

// persistResumeToken records the change-stream position so a restart
// resumes where this process left off. Best-effort.
func (m *Manager) persistResumeToken(ctx context.Context, token bson.Raw) {
	if len(token) == 0 {
		return
	}
	_, err := m.cols.Meta.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.agentID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "resumeToken", Value: []byte(token)}}}},
		mongooptions.UpdateOne().SetUpsert(true))
	if err != nil {
		m.logger.Debug("failed to persist resume token", slog.String("error", err.Error()))
	}
}

// startKBAutoImport ingests the configured auto-import paths once at
// startup and, when a refresh interval is configured, re-ingests them on a
// ticker until refreshCtx is cancelled.
func (m *Manager) startKBAutoImport(ctx, refreshCtx context.Context) {
	if len(m.cfg.KB.AutoImportPaths) == 0 {
		return
	}
	m.autoImportKB(ctx)

	interval := kbRefreshInterval(m.cfg)
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				m.autoImportKB(refreshCtx)
			}
		}
	}()
}

func (m *Manager) autoImportKB(ctx context.Context) {
	res, err := m.kbPipeline.IngestFiles(ctx, m.cfg.KB.AutoImportPaths, kbAutoImportOptions(m.cfg))
	if err != nil {
		m.logger.Warn("kb auto-import failed", slog.String("error", err.Error()))
		return
	}
	m.logger.Info("kb auto-import complete",
		slog.Int("documents", res.DocumentsProcessed),
		slog.Int("chunks", res.ChunksCreated),
		slog.Int("skipped", res.Skipped))
}

// kbRefreshInterval derives the re-ingest period. Zero means no periodic
// refresh.
func kbRefreshInterval(cfg *config.Config) time.Duration {
	if len(cfg.KB.AutoImportPaths) == 0 || cfg.KB.AutoRefreshHours <= 0 {
		return 0
	}
	return time.Duration(cfg.KB.AutoRefreshHours) * time.Hour
}

func kbAutoImportOptions(cfg *config.Config) kb.FileIngestOptions {
	return kb.FileIngestOptions{
		Recursive:  cfg.KBRecursive(),
		ImportedBy: "auto-import",
	}
}

// cacheCapabilities records the probed feature set on the agent's meta row.
// Best-effort: the cache is advisory.
func (m *Manager) cacheCapabilities(ctx context.Context) {
	_, err := m.cols.Meta.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.agentID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "capabilities", Value: m.features.Strings()}}}},
		mongooptions.UpdateOne().SetUpsert(true))
	if err != nil {
		m.logger.Debug("failed to cache capabilities", slog.String("error", err.Error()))
	}
}

func (m *Manager) markDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

func (m *Manager) syncInBackground(reason string) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	go func() {
		if _, err := m.Sync(context.Background(), reason); err != nil {
			m.logger.Warn("background sync failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()))
		}
	}()
}

// Sync runs the sync engine. The dirty flag clears before the run starts,
// so a change observed while the run is in flight re-marks the manager
// dirty and is picked up by the run that change schedules, never dropped.
func (m *Manager) Sync(ctx context.Context, reason string) (*syncer.Result, error) {
	if err := m.guard("sync"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()

	result, err := m.engine.Sync(ctx, syncer.Options{Reason: reason})
	if err != nil {
		m.markDirty()
		return nil, err
	}
	return result, nil
}

// KB returns the knowledge-base pipeline.
func (m *Manager) KB() *kb.Pipeline { return m.kbPipeline }

// HasWriteCapability reports whether structured writes are available.
func (m *Manager) HasWriteCapability() bool {
	return m.cfg.Backend == config.BackendMongoDB
}

// WriteStructuredMemory upserts a typed observation for this agent.
func (m *Manager) WriteStructuredMemory(ctx context.Context, in structured.WriteInput) (*structured.WriteResult, error) {
	if err := m.guard("writeStructuredMemory"); err != nil {
		return nil, err
	}
	if !m.HasWriteCapability() {
		return nil, memerr.New(memerr.KindCapability, "writeStructuredMemory",
			fmt.Errorf("backend %s does not support structured writes", m.cfg.Backend))
	}
	if in.AgentID == "" {
		in.AgentID = m.agentID
	}
	return m.structured.Write(ctx, in)
}

// Status reports the manager's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	dirty := m.dirty
	m.mu.Unlock()

	s := Status{
		Backend: string(m.cfg.Backend),
		Dirty:   dirty,
		Tier:    string(m.topo.Tier),
	}
	if m.embedder != nil {
		s.Provider = m.cfg.Embeddings.Endpoint
		s.Model = m.embedder.ModelName()
	}
	switch {
	case m.engine.TxnDisabled():
		s.Fallback = "non-transactional writes"
	case !m.features.VectorSearch && m.features.TextSearch:
		s.Fallback = "text-only search"
	case !m.features.VectorSearch:
		s.Fallback = "legacy text search"
	}
	return s
}

// Topology returns the probe result.
func (m *Manager) Topology() *topology.Topology { return m.topo }

// guard rejects operations on a closed manager.
func (m *Manager) guard(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return memerr.New(memerr.KindProgrammer, op, fmt.Errorf("manager is closed"))
	}
	return nil
}

// Close stops the watchers, closes the embedder, and disconnects the
// client. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if m.fileWatcher != nil {
		_ = m.fileWatcher.Close()
	}
	if m.csWatcher != nil {
		m.csWatcher.Close()
	}
	if m.embedder != nil {
		_ = m.embedder.Close()
	}
	return m.client.Disconnect(ctx)
}
