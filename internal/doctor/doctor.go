// Package doctor is a one-shot health probe: connect, detect topology,
// measure embedding coverage, and suggest remediations. It never mutates
// the database.
package doctor

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/store"
	"github.com/openclaw/mongomem/internal/topology"
)

// ProbeTimeout is the tightened server-selection timeout for diagnostics.
const ProbeTimeout = 5 * time.Second

// EmbeddingCoverage breaks chunk counts down by embedding status.
type EmbeddingCoverage struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
	Total   int64 `json:"total"`
}

// Report is the doctor's output. URI is always credential-redacted.
type Report struct {
	URI          string             `json:"uri"`
	Connected    bool               `json:"connected"`
	Tier         topology.Tier      `json:"tier,omitempty"`
	Version      string             `json:"version,omitempty"`
	Capabilities []string           `json:"capabilities,omitempty"`
	Coverage     *EmbeddingCoverage `json:"embedding_coverage,omitempty"`
	Remediations []string           `json:"remediations,omitempty"`
}

// Run executes the full diagnostic against the configured deployment.
func Run(ctx context.Context, cfg *config.Config) *Report {
	report := &Report{URI: config.RedactURI(cfg.URI)}

	if cfg.Backend != config.BackendMongoDB {
		report.Remediations = append(report.Remediations,
			fmt.Sprintf("backend is %q; set backend to mongodb to enable this subsystem", cfg.Backend))
		return report
	}

	clientOpts := mongooptions.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(ProbeTimeout).
		SetConnectTimeout(ProbeTimeout)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		report.Remediations = append(report.Remediations,
			fmt.Sprintf("connection string rejected (%v); check uri or %s", err, config.EnvMongoURI))
		return report
	}
	defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

	pingCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		report.Remediations = append(report.Remediations,
			fmt.Sprintf("server unreachable at %s; start the server or run setup", report.URI))
		return report
	}
	report.Connected = true

	cols := store.NewCollections(client.Database(cfg.Database), cfg.CollectionPrefix)
	topo, err := topology.Detect(ctx, client, cols.Chunks)
	if err != nil {
		report.Remediations = append(report.Remediations,
			fmt.Sprintf("capability probe failed: %v", err))
		return report
	}
	report.Tier = topo.Tier
	report.Version = topo.ServerVersion
	features := topo.Features()
	report.Capabilities = features.Strings()

	coverage, err := embeddingCoverage(ctx, cols.Chunks)
	if err == nil {
		report.Coverage = coverage
	}

	report.Remediations = append(report.Remediations, remediations(cfg, topo, features, coverage)...)
	return report
}

// embeddingCoverage groups chunk counts by embedding status.
func embeddingCoverage(ctx context.Context, chunks *mongo.Collection) (*EmbeddingCoverage, error) {
	cursor, err := chunks.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$embeddingStatus"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	coverage := &EmbeddingCoverage{}
	for cursor.Next(ctx) {
		var row struct {
			Status store.EmbeddingStatus `bson:"_id"`
			Count  int64                 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		coverage.Total += row.Count
		switch row.Status {
		case store.EmbeddingSuccess:
			coverage.Success = row.Count
		case store.EmbeddingFailed:
			coverage.Failed = row.Count
		case store.EmbeddingPending:
			coverage.Pending = row.Count
		}
	}
	return coverage, cursor.Err()
}

// remediations derives actionable hints from the probe and coverage.
func remediations(cfg *config.Config, topo *topology.Topology, features topology.Features, coverage *EmbeddingCoverage) []string {
	var hints []string

	if topo.Tier == topology.TierStandalone {
		hints = append(hints,
			"standalone deployment: no transactions or change streams; run setup to upgrade to a replica set")
	}
	if cfg.DeploymentProfile.ExpectsSearchEngine() && !topo.HasSearchEngine {
		hints = append(hints, fmt.Sprintf(
			"profile %s expects a search engine but mongot is not attached: hybrid search degrades to $text; attach mongot or use an Atlas deployment",
			cfg.DeploymentProfile))
	}
	if cfg.EmbeddingMode == config.EmbeddingManaged {
		if cfg.Embeddings.APIKeyEnv != "" {
			hints = append(hints, fmt.Sprintf(
				"managed embedding mode: remote providers need %s set in the environment", cfg.Embeddings.APIKeyEnv))
		}
		if coverage != nil && coverage.Failed > 0 {
			hints = append(hints, fmt.Sprintf(
				"%d chunks have failed embeddings; fix the provider and run a forced sync", coverage.Failed))
		}
	}
	if cfg.EnableChangeStreams && !features.ChangeStreams {
		hints = append(hints,
			"enable_change_streams is set but the deployment has no replica set; the subscriber stays off")
	}
	return hints
}
