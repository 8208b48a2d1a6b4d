package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		version string
		major   int
		minor   int
	}{
		{"8.0.4", 8, 0},
		{"8.2.0", 8, 2},
		{"7.0.14", 7, 0},
		{"8.2.0-rc1", 8, 2},
		{"garbage", 0, 0},
		{"", 0, 0},
		{"8", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			major, minor := parseVersion(tt.version)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast(8, 2, 8, 2))
	assert.True(t, versionAtLeast(9, 0, 8, 2))
	assert.True(t, versionAtLeast(8, 3, 8, 2))
	assert.False(t, versionAtLeast(8, 1, 8, 2))
	assert.False(t, versionAtLeast(7, 9, 8, 0))
}

func TestFeatures_Standalone(t *testing.T) {
	topo := &Topology{Tier: TierStandalone, ServerVersion: "8.2.0"}
	f := topo.Features()
	assert.Equal(t, Features{}, f)
}

func TestFeatures_ReplicaSet(t *testing.T) {
	topo := &Topology{Tier: TierReplicaSet, ServerVersion: "8.2.0"}
	f := topo.Features()

	assert.True(t, f.Transactions)
	assert.True(t, f.ChangeStreams)
	assert.False(t, f.TextSearch)
	assert.False(t, f.VectorSearch)
	assert.False(t, f.RankFusion)
	assert.False(t, f.ScoreFusion)
}

func TestFeatures_FullStackVersionGates(t *testing.T) {
	tests := []struct {
		version     string
		rankFusion  bool
		scoreFusion bool
	}{
		{"7.0.14", false, false},
		{"8.0.4", true, false},
		{"8.2.0", true, true},
		{"unknown", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			topo := &Topology{Tier: TierFullStack, ServerVersion: tt.version}
			f := topo.Features()

			assert.True(t, f.Transactions)
			assert.True(t, f.ChangeStreams)
			assert.True(t, f.TextSearch)
			assert.True(t, f.VectorSearch)
			assert.Equal(t, tt.rankFusion, f.RankFusion)
			assert.Equal(t, tt.scoreFusion, f.ScoreFusion)
		})
	}
}

func TestFeaturesStrings(t *testing.T) {
	f := Features{Transactions: true, TextSearch: true}
	assert.Equal(t, []string{"transactions", "textSearch"}, f.Strings())

	assert.Empty(t, Features{}.Strings())
}
