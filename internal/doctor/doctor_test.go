package doctor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/topology"
)

func hintsContaining(hints []string, substr string) bool {
	for _, h := range hints {
		if strings.Contains(h, substr) {
			return true
		}
	}
	return false
}

func TestRemediations_HealthyFullStack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbeddingMode = config.EmbeddingAutomated

	topo := &topology.Topology{Tier: topology.TierFullStack, ServerVersion: "8.2.0", HasSearchEngine: true}
	hints := remediations(cfg, topo, topo.Features(), &EmbeddingCoverage{Success: 10, Total: 10})

	assert.Empty(t, hints)
}

func TestRemediations_Standalone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbeddingMode = config.EmbeddingAutomated
	cfg.EnableChangeStreams = false

	topo := &topology.Topology{Tier: topology.TierStandalone, ServerVersion: "8.0.4"}
	hints := remediations(cfg, topo, topo.Features(), nil)

	assert.True(t, hintsContaining(hints, "standalone"))
	assert.True(t, hintsContaining(hints, "mongot"))
}

func TestRemediations_BareProfileExpectsNoSearchEngine(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DeploymentProfile = config.ProfileCommunityBare
	cfg.EmbeddingMode = config.EmbeddingAutomated
	cfg.EnableChangeStreams = false

	topo := &topology.Topology{Tier: topology.TierReplicaSet, ServerVersion: "8.0.4"}
	hints := remediations(cfg, topo, topo.Features(), nil)

	assert.False(t, hintsContaining(hints, "mongot"))
}

func TestRemediations_ManagedEmbeddings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbeddingMode = config.EmbeddingManaged
	cfg.Embeddings.APIKeyEnv = "OPENAI_API_KEY"

	topo := &topology.Topology{Tier: topology.TierFullStack, ServerVersion: "8.2.0", HasSearchEngine: true}

	t.Run("names the key env var", func(t *testing.T) {
		hints := remediations(cfg, topo, topo.Features(), nil)
		assert.True(t, hintsContaining(hints, "OPENAI_API_KEY"))
	})

	t.Run("reports failed embeddings", func(t *testing.T) {
		hints := remediations(cfg, topo, topo.Features(), &EmbeddingCoverage{Failed: 7, Total: 20})
		assert.True(t, hintsContaining(hints, "7 chunks"))
	})

	t.Run("silent when coverage is clean", func(t *testing.T) {
		hints := remediations(cfg, topo, topo.Features(), &EmbeddingCoverage{Success: 20, Total: 20})
		require.Len(t, hints, 1)
		assert.Contains(t, hints[0], "OPENAI_API_KEY")
	})
}

func TestRemediations_ChangeStreamsWithoutReplicaSet(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbeddingMode = config.EmbeddingAutomated
	cfg.EnableChangeStreams = true

	topo := &topology.Topology{Tier: topology.TierStandalone, ServerVersion: "8.0.4", HasSearchEngine: true}
	hints := remediations(cfg, topo, topo.Features(), nil)

	assert.True(t, hintsContaining(hints, "enable_change_streams"))
}
