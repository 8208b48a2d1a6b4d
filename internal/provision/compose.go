package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/mongomem/internal/topology"
)

const composeFileName = "compose.yaml"

// startTier writes the tier's compose manifest, brings the stack up, and
// polls health until the primary container reports healthy. Full stack
// additionally waits for the search-engine container. On failure the stack
// is torn down before the error returns.
func (p *Provisioner) startTier(ctx context.Context, tier topology.Tier) (string, error) {
	// Residue from a previous tier attempt would collide on names/ports.
	_ = p.composeDown(ctx)

	manifest, uri, err := p.renderManifest(tier)
	if err != nil {
		return "", err
	}
	composePath := filepath.Join(p.stateDir, composeFileName)
	if err := os.WriteFile(composePath, []byte(manifest), 0o600); err != nil {
		return "", fmt.Errorf("cannot write compose manifest: %w", err)
	}

	if err := runDocker(ctx, "compose", "-f", composePath, "up", "-d"); err != nil {
		_ = p.composeDown(ctx)
		return "", fmt.Errorf("compose up failed: %w", err)
	}

	if err := p.awaitHealthy(ctx, ContainerMongod); err != nil {
		_ = p.composeDown(ctx)
		return "", err
	}
	if tier == topology.TierFullStack {
		if err := p.awaitRunning(ctx, ContainerMongot); err != nil {
			_ = p.composeDown(ctx)
			return "", err
		}
	}

	// The replica-set tiers need a moment for the primary election after
	// rs.initiate; the ping probe covers that.
	deadline := time.Now().Add(p.healthTimeout)
	for time.Now().Before(deadline) {
		if pingURI(ctx, uri) {
			return uri, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	_ = p.composeDown(ctx)
	return "", fmt.Errorf("deployment never became reachable at %s", uri)
}

// composeDown stops and removes the managed stack.
func (p *Provisioner) composeDown(ctx context.Context) error {
	composePath := filepath.Join(p.stateDir, composeFileName)
	if _, err := os.Stat(composePath); err != nil {
		return nil
	}
	return runDocker(ctx, "compose", "-f", composePath, "down", "-v")
}

// awaitHealthy polls the container's healthcheck status.
func (p *Provisioner) awaitHealthy(ctx context.Context, name string) error {
	deadline := time.Now().Add(p.healthTimeout)
	for time.Now().Before(deadline) {
		out, err := dockerOutput(ctx, "inspect", "-f", "{{.State.Health.Status}}", name)
		if err == nil {
			switch strings.TrimSpace(out) {
			case "healthy":
				return nil
			case "unhealthy":
				return fmt.Errorf("container %s reported unhealthy", name)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	return fmt.Errorf("container %s did not become healthy within %s", name, p.healthTimeout)
}

// awaitRunning polls for plain running state (containers without a
// healthcheck, like the search engine).
func (p *Provisioner) awaitRunning(ctx context.Context, name string) error {
	deadline := time.Now().Add(p.healthTimeout)
	for time.Now().Before(deadline) {
		if p.containerRunning(ctx, name) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	return fmt.Errorf("container %s did not start within %s", name, p.healthTimeout)
}

// renderManifest produces the compose manifest and the URI clients should
// use once the stack is up. Managed stacks run authless on a loopback
// bind; the authenticated candidate URIs only probe deployments someone
// else provisioned.
func (p *Provisioner) renderManifest(tier topology.Tier) (manifest, uri string, err error) {
	switch tier {
	case topology.TierStandalone:
		return standaloneManifest, "mongodb://localhost:27017", nil
	case topology.TierReplicaSet:
		return replicaSetManifest, "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true", nil
	case topology.TierFullStack:
		return fullStackManifest, "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true", nil
	default:
		return "", "", fmt.Errorf("unknown tier %q", tier)
	}
}

const standaloneManifest = `services:
  mongod:
    image: mongo:8
    container_name: ` + ContainerMongod + `
    ports:
      - "127.0.0.1:27017:27017"
    volumes:
      - mongomem-data:/data/db
    healthcheck:
      test: ["CMD-SHELL", "mongosh --quiet --eval 'db.runCommand({ping: 1}).ok' | grep -q 1"]
      interval: 5s
      timeout: 5s
      retries: 12
volumes:
  mongomem-data:
`

const replicaSetManifest = `services:
  mongod:
    image: mongo:8
    container_name: ` + ContainerMongod + `
    command: ["mongod", "--replSet", "rs0", "--bind_ip_all"]
    ports:
      - "127.0.0.1:27017:27017"
    volumes:
      - mongomem-data:/data/db
    healthcheck:
      test: ["CMD-SHELL", 'mongosh --quiet --eval "try { rs.status().ok ? quit(0) : quit(1) } catch (e) { rs.initiate(); quit(1) }"']
      interval: 5s
      timeout: 10s
      retries: 24
volumes:
  mongomem-data:
`

const fullStackManifest = `services:
  mongod:
    image: mongo:8
    container_name: ` + ContainerMongod + `
    command: ["mongod", "--replSet", "rs0", "--bind_ip_all", "--setParameter", "mongotHost=mongot:27027", "--setParameter", "searchIndexManagementHostAndPort=mongot:27027"]
    ports:
      - "127.0.0.1:27017:27017"
    volumes:
      - mongomem-data:/data/db
    healthcheck:
      test: ["CMD-SHELL", 'mongosh --quiet --eval "try { rs.status().ok ? quit(0) : quit(1) } catch (e) { rs.initiate(); quit(1) }"']
      interval: 5s
      timeout: 10s
      retries: 24
  mongot:
    image: mongodb/mongodb-atlas-search:preview
    container_name: ` + ContainerMongot + `
    depends_on:
      mongod:
        condition: service_healthy
    environment:
      - MONGOD_HOST_AND_PORT=mongod:27017
    volumes:
      - mongomem-search:/data/mongot
volumes:
  mongomem-data:
  mongomem-search:
`
