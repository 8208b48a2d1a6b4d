// Package topology probes a MongoDB deployment for the features the memory
// subsystem can use: replica set, search engine (mongot), transactions, and
// the server-side fusion stages. The probe runs once at manager startup and
// its result gates every later operation.
package topology

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Tier is the capability level of a deployment.
type Tier string

const (
	TierStandalone Tier = "standalone"
	TierReplicaSet Tier = "replicaset"
	TierFullStack  Tier = "fullstack"
)

// Version gates for the server-side fusion stages.
const (
	rankFusionMajor  = 8
	rankFusionMinor  = 0
	scoreFusionMajor = 8
	scoreFusionMinor = 2
)

// Topology is the result of a capability probe.
type Topology struct {
	Tier            Tier
	IsReplicaSet    bool
	SetName         string
	ServerVersion   string
	HasSearchEngine bool
	HasTransactions bool
}

// Features is the derived feature set threaded through every operation.
type Features struct {
	Transactions  bool
	ChangeStreams bool
	TextSearch    bool
	VectorSearch  bool
	RankFusion    bool
	ScoreFusion   bool
}

// Detect probes the deployment behind client. probe is any collection the
// caller can aggregate against; it is only used to test for the search
// engine and is never written. Detect returns an error only when even the
// basic admin commands fail (server unreachable).
func Detect(ctx context.Context, client *mongo.Client, probe *mongo.Collection) (*Topology, error) {
	t := &Topology{ServerVersion: "unknown"}

	admin := client.Database("admin")

	// Replica-set status. Failure means standalone, not an error.
	var rsStatus struct {
		Set string `bson:"set"`
	}
	if err := admin.RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&rsStatus); err == nil {
		t.IsReplicaSet = true
		t.SetName = rsStatus.Set
	}

	// Server version from buildInfo.
	var buildInfo struct {
		Version string `bson:"version"`
	}
	if err := admin.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&buildInfo); err != nil {
		// buildInfo failing while replSetGetStatus also failed usually
		// means the server is unreachable; surface that.
		if !t.IsReplicaSet {
			return nil, fmt.Errorf("capability probe failed: %w", err)
		}
	} else if buildInfo.Version != "" {
		t.ServerVersion = buildInfo.Version
	}

	// Search engine: listing search indexes succeeds only when mongot is
	// attached. "Unrecognized pipeline stage" and friends mean it is not.
	if probe != nil {
		cursor, err := probe.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$listSearchIndexes", Value: bson.D{}}},
		})
		if err == nil {
			t.HasSearchEngine = true
			_ = cursor.Close(ctx)
		}
	}

	t.HasTransactions = t.IsReplicaSet
	if !t.HasTransactions {
		t.HasTransactions = trialTransaction(ctx, client)
	}

	switch {
	case t.IsReplicaSet && t.HasSearchEngine:
		t.Tier = TierFullStack
	case t.IsReplicaSet:
		t.Tier = TierReplicaSet
	default:
		t.Tier = TierStandalone
	}

	return t, nil
}

// trialTransaction starts a session and runs an empty transaction body.
// Standalone servers reject the transaction; replica sets commit it.
func trialTransaction(ctx context.Context, client *mongo.Client) bool {
	sess, err := client.StartSession()
	if err != nil {
		return false
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, client.Ping(ctx, nil)
	})
	return err == nil
}

// Features derives the feature set for this topology.
func (t *Topology) Features() Features {
	var f Features
	switch t.Tier {
	case TierFullStack:
		f.TextSearch = true
		f.VectorSearch = true
		major, minor := parseVersion(t.ServerVersion)
		f.RankFusion = versionAtLeast(major, minor, rankFusionMajor, rankFusionMinor)
		f.ScoreFusion = versionAtLeast(major, minor, scoreFusionMajor, scoreFusionMinor)
		fallthrough
	case TierReplicaSet:
		f.Transactions = true
		f.ChangeStreams = true
	case TierStandalone:
		// No optional features.
	}
	return f
}

// Strings returns the enabled feature names, for the meta capability cache.
func (f Features) Strings() []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(f.Transactions, "transactions")
	add(f.ChangeStreams, "changeStreams")
	add(f.TextSearch, "textSearch")
	add(f.VectorSearch, "vectorSearch")
	add(f.RankFusion, "rankFusion")
	add(f.ScoreFusion, "scoreFusion")
	return out
}

// parseVersion extracts major.minor from a server version string.
// Unparseable versions yield 0.0, which disables version-gated features.
func parseVersion(version string) (major, minor int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	minor, err = strconv.Atoi(strings.TrimFunc(parts[1], func(r rune) bool {
		return r < '0' || r > '9'
	}))
	if err != nil {
		return major, 0
	}
	return major, minor
}

func versionAtLeast(major, minor, wantMajor, wantMinor int) bool {
	if major != wantMajor {
		return major > wantMajor
	}
	return minor >= wantMinor
}
