package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7337", cfg.Gateway.Addr())
	assert.Equal(t, "/ws", cfg.Gateway.Path)
	assert.Equal(t, 30*time.Second, cfg.Connection.PingInterval.Std())
	assert.Zero(t, cfg.Connection.ReadTimeout)
	assert.Equal(t, "default", cfg.Name())
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	assert.Equal(t, DefaultFile, PathFromEnv())

	t.Setenv(EnvVar, "/etc/switchboard/gateway.toml")
	assert.Equal(t, "/etc/switchboard/gateway.toml", PathFromEnv())
}

func TestLoadHCL(t *testing.T) {
	t.Setenv("SWITCHBOARD_TEST_PORT", "9001")

	path := writeFile(t, "gateway.hcl", `
gateway {
  port = env.SWITCHBOARD_TEST_PORT
  path = "/rpc"
}

connection {
  queue_size    = 32
  ping_interval = "5s"
  read_timeout  = "1m"
}

store {
  dsn = "file:sessions.db"
}

telemetry {
  enabled          = true
  service_name     = upper("gw")
  publish_interval = "15s"
}

cron "heartbeat" {
  schedule = "@every 1m"
  topic    = "system.heartbeat"
  data = {
    source = "cron"
    n      = 1
  }
}

cron "bare" {
  schedule = "0 * * * *"
  topic    = "system.hourly"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gateway.hcl", cfg.Name())
	assert.Equal(t, DefaultBind, cfg.Gateway.Bind, "unset values keep defaults")
	assert.Equal(t, 9001, cfg.Gateway.Port)
	assert.Equal(t, "/rpc", cfg.Gateway.Path)

	assert.Equal(t, 32, cfg.Connection.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Connection.PingInterval.Std())
	assert.Equal(t, time.Minute, cfg.Connection.ReadTimeout.Std())
	assert.Equal(t, DefaultWriteTimeout, cfg.Connection.WriteTimeout.Std())

	assert.Equal(t, "file:sessions.db", cfg.Store.DSN)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "GW", cfg.Telemetry.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.PublishInterval.Std())

	require.Len(t, cfg.Crons, 2)
	assert.Equal(t, "heartbeat", cfg.Crons[0].Name)
	assert.Equal(t, "system.heartbeat", cfg.Crons[0].Topic)
	assert.Equal(t, map[string]any{"source": "cron", "n": float64(1)}, cfg.Crons[0].Data)
	assert.Nil(t, cfg.Crons[1].Data)
}

func TestLoadHCLFunctions(t *testing.T) {
	path := writeFile(t, "gateway.hcl", `
telemetry {
  service_name = basename(dirname("/srv/gateways/edge/gateway.hcl"))
}

cron "digest" {
  schedule = "@daily"
  topic    = "system.digest"
  data = {
    settings = jsondecode(file("digest.json"))
    present  = fileexists("digest.json")
    missing  = fileexists("nope.json")
    encoded  = base64encode("hello")
    decoded  = base64decode("aGVsbG8=")
    query    = urlencode("a b&c")
    md5      = md5("hello")
    sha256   = sha256("hello")
    id       = uuidv4()
    stable   = uuidv5("dns", "example.com") == uuidv5("dns", "example.com")
  }
}
`)
	// Relative paths resolve against the config file's directory.
	sidecar := filepath.Join(filepath.Dir(path), "digest.json")
	require.NoError(t, os.WriteFile(sidecar, []byte(`{"recipients": 3}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "edge", cfg.Telemetry.ServiceName)

	require.Len(t, cfg.Crons, 1)
	data := cfg.Crons[0].Data
	assert.Equal(t, map[string]any{"recipients": float64(3)}, data["settings"])
	assert.Equal(t, true, data["present"])
	assert.Equal(t, false, data["missing"])
	assert.Equal(t, "aGVsbG8=", data["encoded"])
	assert.Equal(t, "hello", data["decoded"])
	assert.Equal(t, "a+b%26c", data["query"])
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", data["md5"])
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", data["sha256"])
	assert.Len(t, data["id"], 36)
	assert.Equal(t, true, data["stable"])
}

func TestLoadHCLMissingFile(t *testing.T) {
	path := writeFile(t, "gateway.hcl", `
cron "digest" {
  schedule = "@daily"
  topic    = "system.digest"
  data     = jsondecode(file("absent.json"))
}
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "gateway.json", `{
  "gateway": {"port": 8080},
  "connection": {"ping_interval": "0"},
  "cron": {
    "tick": {"schedule": "@every 10s", "topic": "tick", "data": {"ok": true}}
  }
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Zero(t, cfg.Connection.PingInterval)
	require.Len(t, cfg.Crons, 1)
	assert.Equal(t, "tick", cfg.Crons[0].Name)
	assert.Equal(t, true, cfg.Crons[0].Data["ok"])
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "gateway.toml", `
[gateway]
bind = "0.0.0.0"
port = 7000

[connection]
write_timeout = "2s"
read_limit = 4096

[[cron]]
name = "nightly"
schedule = "0 3 * * *"
timezone = "UTC"
topic = "maintenance.nightly"

[cron.data]
kind = "vacuum"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Gateway.Addr())
	assert.Equal(t, DefaultWSPath, cfg.Gateway.Path)
	assert.Equal(t, 2*time.Second, cfg.Connection.WriteTimeout.Std())
	assert.EqualValues(t, 4096, cfg.Connection.ReadLimit)
	assert.Equal(t, DefaultQueueSize, cfg.Connection.QueueSize)

	require.Len(t, cfg.Crons, 1)
	assert.Equal(t, "UTC", cfg.Crons[0].Timezone)
	assert.Equal(t, "vacuum", cfg.Crons[0].Data["kind"])
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.yaml", "gateway: {}"))
		assert.ErrorContains(t, err, "unsupported config format")
	})

	t.Run("hcl syntax", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.hcl", "gateway {"))
		assert.Error(t, err)
	})

	t.Run("unknown toml key", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.toml", "[gateway]\nprot = 1\n"))
		assert.ErrorContains(t, err, "gateway.prot")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.hcl", "connection {\n  ping_interval = \"soon\"\n}\n"))
		assert.ErrorContains(t, err, "ping_interval")
	})

	t.Run("cron data must be an object", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.hcl", "cron \"x\" {\n  schedule = \"@hourly\"\n  topic = \"t\"\n  data = 3\n}\n"))
		assert.ErrorContains(t, err, "expected an object")
	})

	t.Run("validation", func(t *testing.T) {
		_, err := Load(writeFile(t, "gateway.hcl", "gateway {\n  port = 70000\n  path = \"ws\"\n}\n"))
		assert.ErrorContains(t, err, "out of range")
		assert.ErrorContains(t, err, "must start with /")
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Path = "/health"
	cfg.Connection.QueueSize = 0
	cfg.Connection.WriteTimeout = 0
	cfg.Crons = []Cron{
		{Name: "a", Schedule: "@hourly", Topic: "t"},
		{Name: "a", Schedule: "@hourly", Topic: "t"},
		{Schedule: "", Topic: ""},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`gateway.path "/health" is reserved`,
		"queue_size",
		"write_timeout",
		`cron "a" is defined more than once`,
		"cron #3 has no name",
		"has no schedule",
		"has no topic",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestMap(t *testing.T) {
	m, err := Default().Map()
	require.NoError(t, err)

	gateway := m["gateway"].(map[string]any)
	assert.EqualValues(t, DefaultPort, gateway["port"])

	connection := m["connection"].(map[string]any)
	assert.Equal(t, "30s", connection["pingInterval"])
	assert.Equal(t, "0s", connection["readTimeout"])
}

func TestSanitizeEnvVarName(t *testing.T) {
	assert.Equal(t, "PATH", sanitizeEnvVarName("PATH"))
	assert.Equal(t, "_", sanitizeEnvVarName(""))
	assert.Equal(t, "_1VAR", sanitizeEnvVarName("11VAR"))
	assert.Equal(t, "A_B", sanitizeEnvVarName("A.B"))
	assert.Equal(t, "my-var2", sanitizeEnvVarName("my-var2"))
}
