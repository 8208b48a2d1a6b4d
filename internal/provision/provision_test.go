package provision

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/mongomem/internal/topology"
)

func TestNew_Defaults(t *testing.T) {
	p := New(Options{})

	assert.NotEmpty(t, p.stateDir)
	assert.Equal(t, DefaultHealthTimeout, p.healthTimeout)
	assert.NotNil(t, p.logger)
}

func TestNew_ExplicitOptions(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{StateDir: dir, HealthTimeout: 30 * time.Second})

	assert.Equal(t, dir, p.stateDir)
	assert.Equal(t, 30*time.Second, p.healthTimeout)
}

func TestPortFree(t *testing.T) {
	// Given: a listener occupying an ephemeral port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()

	assert.False(t, portFree(addr))

	// When the listener goes away the port frees up.
	require.NoError(t, l.Close())
	assert.True(t, portFree(addr))
}

func TestRenderManifest(t *testing.T) {
	p := New(Options{StateDir: t.TempDir()})

	t.Run("standalone", func(t *testing.T) {
		manifest, uri, err := p.renderManifest(topology.TierStandalone)
		require.NoError(t, err)
		assert.Equal(t, "mongodb://localhost:27017", uri)
		assert.Contains(t, manifest, ContainerMongod)
		assert.NotContains(t, manifest, ContainerMongot)
	})

	t.Run("replica set", func(t *testing.T) {
		manifest, uri, err := p.renderManifest(topology.TierReplicaSet)
		require.NoError(t, err)
		assert.Contains(t, uri, "replicaSet=rs0")
		assert.Contains(t, uri, "directConnection=true")
		assert.Contains(t, manifest, "rs0")
		assert.NotContains(t, manifest, ContainerMongot)
	})

	t.Run("full stack includes mongot", func(t *testing.T) {
		manifest, uri, err := p.renderManifest(topology.TierFullStack)
		require.NoError(t, err)
		assert.Contains(t, uri, "replicaSet=rs0")
		assert.Contains(t, manifest, ContainerMongot)
	})

	t.Run("unknown tier", func(t *testing.T) {
		_, _, err := p.renderManifest(topology.Tier("exotic"))
		assert.Error(t, err)
	})
}

func TestRenderManifest_Authless(t *testing.T) {
	// Managed stacks bind to loopback without credentials; the URIs must
	// match what the manifests actually start.
	p := New(Options{StateDir: t.TempDir()})

	for _, tier := range []topology.Tier{topology.TierStandalone, topology.TierReplicaSet, topology.TierFullStack} {
		manifest, uri, err := p.renderManifest(tier)
		require.NoError(t, err)
		assert.NotContains(t, uri, "@")
		assert.NotContains(t, manifest, "keyFile")
		assert.NotContains(t, manifest, "MONGO_INITDB_ROOT_USERNAME")
		assert.Contains(t, manifest, "127.0.0.1:27017:27017")
	}
}
