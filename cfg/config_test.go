package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, mutate func(*Configuration)) {
	t.Helper()
	saved := *Config
	mutate(Config)
	t.Cleanup(func() { *Config = saved })
}

func TestValidate_Defaults(t *testing.T) {
	withConfig(t, func(c *Configuration) {})
	assert.NoError(t, Validate())
}

func TestValidate_RESTRequiresBaseURL(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Datastore.Backend = BackendREST
		c.Datastore.BaseURL = ""
	})
	assert.Error(t, Validate())
}

func TestValidate_SQLiteRequiresPath(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Datastore.Backend = BackendSQLite
		c.Datastore.SQLitePath = ""
	})
	assert.Error(t, Validate())
}

func TestValidate_MemoryBackendNeedsNothing(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Datastore.Backend = BackendMemory
		c.Datastore.BaseURL = ""
		c.Datastore.SQLitePath = ""
	})
	assert.NoError(t, Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Datastore.Backend = "etcd"
	})
	assert.Error(t, Validate())
}

func TestValidate_NatsSinkRequiresURL(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Events.Enabled = true
		c.Events.Sink = "nats"
		c.Events.NatsURL = ""
	})
	assert.Error(t, Validate())

	withConfig(t, func(c *Configuration) {
		c.Events.Enabled = true
		c.Events.Sink = "nats"
		c.Events.NatsURL = "nats://localhost:4222"
	})
	assert.NoError(t, Validate())
}

func TestValidate_AdminPortRange(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Admin.Enabled = true
		c.Admin.Port = 99999
	})
	assert.Error(t, Validate())
}

func TestValidate_CoordinatorBounds(t *testing.T) {
	withConfig(t, func(c *Configuration) {
		c.Coordinator.RecentResults = 0
	})
	assert.Error(t, Validate())

	withConfig(t, func(c *Configuration) {
		c.Coordinator.ProbeCacheSize = 0
	})
	assert.Error(t, Validate())
}

func TestLoad_FromFile(t *testing.T) {
	withConfig(t, func(c *Configuration) {})

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[datastore]
backend = "memory"
timeout_ms = 1000

[coordinator]
validate_before_commit = false
recent_results = 32
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, Load(path))

	assert.Equal(t, BackendMemory, Config.Datastore.Backend)
	assert.Equal(t, 1000, Config.Datastore.TimeoutMS)
	assert.False(t, Config.Coordinator.ValidateBeforeCommit)
	assert.Equal(t, 32, Config.Coordinator.RecentResults)
	assert.NotZero(t, Config.ProcessID, "process ID must be auto-generated")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	withConfig(t, func(c *Configuration) {})
	require.NoError(t, Load("/nonexistent/config.toml"))
	assert.Equal(t, BackendREST, Config.Datastore.Backend)
}
