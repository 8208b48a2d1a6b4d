package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/topology"
)

// Config fixes the dispatcher's strategy inputs for one collection scope.
type Config struct {
	FusionMethod  config.FusionMethod
	EmbeddingMode config.EmbeddingMode
	Weights       Weights
	NumCandidates int
	VectorIndex   string
	SearchIndex   string
}

// Dispatcher routes queries to the best available search strategy for the
// probed capability set, with ordered fallback. One dispatcher serves one
// chunks collection (workspace memory or KB).
type Dispatcher struct {
	coll     *mongo.Collection
	features topology.Features
	cfg      Config
	logger   *slog.Logger

	degradeOnce sync.Once
}

// strategy is one tier of the dispatch table. available gates it on the
// capability tuple; run either produces results or fails, in which case the
// dispatcher falls through to the next tier.
type strategy struct {
	name      string
	available func(vectorViable, textViable bool) bool
	run       func(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error)
}

// New creates a dispatcher over coll with the given capability set.
func New(coll *mongo.Collection, features topology.Features, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weights.Vector <= 0 && cfg.Weights.Text <= 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.NumCandidates <= 0 {
		cfg.NumCandidates = 200
	}
	return &Dispatcher{coll: coll, features: features, cfg: cfg, logger: logger}
}

// Search executes query against the strategy table. It returns the top
// MaxResults results with Score >= MinScore. Tier-level failures become
// TryNext and the next tier serves the query; cancellation aborts. When
// every tier fails an empty list is returned.
func (d *Dispatcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.MaxResults <= 0 {
		return []Result{}, nil
	}

	vectorViable := d.vectorViable(opts)
	textViable := d.features.TextSearch

	filter := sourceFilter(opts.SessionKey)
	limit := opts.MaxResults

	for _, s := range d.strategies() {
		if !s.available(vectorViable, textViable) {
			continue
		}
		results, err := s.run(ctx, query, opts, limit, filter)
		if err != nil {
			err = classifyStrategyErr(s.name, err)
			if !errors.Is(err, memerr.ErrTryNext) {
				return nil, err
			}
			d.logger.Warn("search strategy failed, falling through",
				slog.String("strategy", s.name),
				slog.String("error", err.Error()))
			continue
		}
		return capResults(results, opts), nil
	}

	return []Result{}, nil
}

// classifyStrategyErr decides whether a strategy failure falls through.
// Cancellation aborts the whole dispatch; any other failure (unknown
// aggregation stage, missing index) becomes a TryNext for the lower tiers.
func classifyStrategyErr(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, memerr.ErrTryNext) {
		return err
	}
	return memerr.TryNext(name, err)
}

// vectorViable applies the two truths from the capability model: vector
// search needs the capability plus either in-engine embedding (automated
// mode) or a caller-provided query vector (managed mode).
func (d *Dispatcher) vectorViable(opts Options) bool {
	if !d.features.VectorSearch {
		return false
	}
	switch d.cfg.EmbeddingMode {
	case config.EmbeddingAutomated:
		return true
	case config.EmbeddingManaged:
		return len(opts.QueryVector) > 0
	default:
		return false
	}
}

// strategies returns the ordered dispatch table.
func (d *Dispatcher) strategies() []strategy {
	return []strategy{
		{
			name: "scoreFusion",
			available: func(v, t bool) bool {
				return v && t && d.cfg.FusionMethod == config.FusionScore && d.features.ScoreFusion
			},
			run: d.runScoreFusion,
		},
		{
			name: "rankFusion",
			available: func(v, t bool) bool {
				return v && t && d.cfg.FusionMethod != config.FusionJSMerge && d.features.RankFusion
			},
			run: d.runRankFusion,
		},
		{
			name: "js-merge",
			available: func(v, t bool) bool {
				if v && t {
					d.noteDegradation()
					return true
				}
				return false
			},
			run: d.runClientMerge,
		},
		{
			name:      "vector-only",
			available: func(v, _ bool) bool { return v },
			run:       d.runVectorOnly,
		},
		{
			name:      "text-only",
			available: func(_, t bool) bool { return t },
			run:       d.runTextOnly,
		},
		{
			name:      "legacy-text",
			available: func(_, _ bool) bool { d.noteDegradation(); return true },
			run:       d.runLegacyText,
		},
	}
}

// noteDegradation warns once per dispatcher when the preferred server-side
// fusion is not available and a lower tier is serving queries.
func (d *Dispatcher) noteDegradation() {
	if d.cfg.FusionMethod == config.FusionJSMerge {
		return
	}
	d.degradeOnce.Do(func() {
		d.logger.Warn("preferred fusion strategy unavailable on this deployment, using fallback",
			slog.String("preferred", string(d.cfg.FusionMethod)))
	})
}

func (d *Dispatcher) runScoreFusion(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	results, err := d.aggregate(ctx, d.scoreFusionPipeline(query, opts.QueryVector, limit, filter))
	if err != nil {
		return nil, err
	}
	// Sigmoid-normalised weighted average is already in [0,1]; clamp for
	// safety against server rounding.
	for i := range results {
		results[i].Score = ClampUnit(results[i].Score)
	}
	return results, nil
}

func (d *Dispatcher) runRankFusion(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	results, err := d.aggregate(ctx, d.rankFusionPipeline(query, opts.QueryVector, limit, filter))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Score = NormalizeRRF(results[i].Score, RRFConstant)
	}
	return results, nil
}

// runClientMerge runs the vector and text pipelines in parallel and merges
// on the client with Reciprocal Rank Fusion.
func (d *Dispatcher) runClientMerge(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	var vectorResults, textResults []Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = d.runVectorOnly(gctx, query, opts, limit, filter)
		return err
	})
	g.Go(func() error {
		var err error
		textResults, err = d.runTextOnly(gctx, query, opts, limit, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return MergeRRF(vectorResults, textResults, d.cfg.Weights), nil
}

func (d *Dispatcher) runVectorOnly(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	results, err := d.aggregate(ctx, d.vectorPipeline(query, opts.QueryVector, limit, filter))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Score = ClampUnit(results[i].Score)
	}
	return results, nil
}

func (d *Dispatcher) runTextOnly(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	results, err := d.aggregate(ctx, d.textPipeline(query, limit, filter))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Score = SigmoidNorm(results[i].Score, textScoreSigmoidK)
	}
	return results, nil
}

func (d *Dispatcher) runLegacyText(ctx context.Context, query string, opts Options, limit int, filter bson.D) ([]Result, error) {
	results, err := d.aggregate(ctx, d.legacyTextPipeline(query, limit, filter))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Score = SigmoidNorm(results[i].Score, textScoreSigmoidK)
	}
	return results, nil
}

func (d *Dispatcher) aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]Result, error) {
	cursor, err := d.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate failed: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []Result
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return results, nil
}

// capResults applies MinScore and MaxResults to a sorted result list.
func capResults(results []Result, opts Options) []Result {
	out := results[:0:len(results)]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	if len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}
