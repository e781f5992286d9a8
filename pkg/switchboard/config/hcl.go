package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-cty-funcs/crypto"
	"github.com/hashicorp/go-cty-funcs/encoding"
	"github.com/hashicorp/go-cty-funcs/filesystem"
	"github.com/hashicorp/go-cty-funcs/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclFile mirrors Config with every attribute optional so that only values
// present in the file override the defaults.
type hclFile struct {
	Gateway    *hclGateway    `hcl:"gateway,block"`
	Connection *hclConnection `hcl:"connection,block"`
	Store      *hclStore      `hcl:"store,block"`
	Telemetry  *hclTelemetry  `hcl:"telemetry,block"`
	Crons      []hclCron      `hcl:"cron,block"`
}

type hclGateway struct {
	Bind *string `hcl:"bind,optional"`
	Port *int    `hcl:"port,optional"`
	Path *string `hcl:"path,optional"`
}

type hclConnection struct {
	QueueSize    *int    `hcl:"queue_size,optional"`
	PingInterval *string `hcl:"ping_interval,optional"`
	ReadTimeout  *string `hcl:"read_timeout,optional"`
	WriteTimeout *string `hcl:"write_timeout,optional"`
	ReadLimit    *int64  `hcl:"read_limit,optional"`
}

type hclStore struct {
	DSN *string `hcl:"dsn,optional"`
}

type hclTelemetry struct {
	Enabled         *bool   `hcl:"enabled,optional"`
	ServiceName     *string `hcl:"service_name,optional"`
	PublishInterval *string `hcl:"publish_interval,optional"`
}

type hclCron struct {
	Name     string    `hcl:"name,label"`
	Schedule string    `hcl:"schedule"`
	Timezone string    `hcl:"timezone,optional"`
	Topic    string    `hcl:"topic"`
	Data     cty.Value `hcl:"data,optional"`
}

func decodeHCL(path string, cfg *Config) error {
	var file hclFile
	if err := hclsimple.DecodeFile(path, evalContext(filepath.Dir(path)), &file); err != nil {
		return err
	}
	return file.apply(cfg)
}

// evalContext exposes the process environment as `env` and a set of
// string, encoding, hashing, uuid and filesystem functions to config
// expressions. Relative paths given to file and fileexists resolve against
// baseDir, the directory of the config file.
func evalContext(baseDir string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envObject(),
		},
		Functions: configFunctions(baseDir),
	}
}

func configFunctions(baseDir string) map[string]function.Function {
	return map[string]function.Function{
		"coalesce":   stdlib.CoalesceFunc,
		"format":     stdlib.FormatFunc,
		"lower":      stdlib.LowerFunc,
		"upper":      stdlib.UpperFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"join":       stdlib.JoinFunc,
		"split":      stdlib.SplitFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,

		"base64decode": encoding.Base64DecodeFunc,
		"base64encode": encoding.Base64EncodeFunc,
		"urlencode":    encoding.URLEncodeFunc,

		"md5":    crypto.Md5Func,
		"sha1":   crypto.Sha1Func,
		"sha256": crypto.Sha256Func,
		"sha512": crypto.Sha512Func,

		"uuidv4": uuid.V4Func,
		"uuidv5": uuid.V5Func,

		"abspath":    filesystem.AbsPathFunc,
		"basename":   filesystem.BasenameFunc,
		"dirname":    filesystem.DirnameFunc,
		"pathexpand": filesystem.PathExpandFunc,
		"file":       filesystem.MakeFileFunc(baseDir, false),
		"fileexists": filesystem.MakeFileExistsFunc(baseDir),
	}
}

func (f *hclFile) apply(cfg *Config) error {
	if g := f.Gateway; g != nil {
		setIf(&cfg.Gateway.Bind, g.Bind)
		setIf(&cfg.Gateway.Port, g.Port)
		setIf(&cfg.Gateway.Path, g.Path)
	}

	if c := f.Connection; c != nil {
		setIf(&cfg.Connection.QueueSize, c.QueueSize)
		setIf(&cfg.Connection.ReadLimit, c.ReadLimit)

		durations := []struct {
			name   string
			source *string
			target *Duration
		}{
			{"ping_interval", c.PingInterval, &cfg.Connection.PingInterval},
			{"read_timeout", c.ReadTimeout, &cfg.Connection.ReadTimeout},
			{"write_timeout", c.WriteTimeout, &cfg.Connection.WriteTimeout},
		}
		for _, d := range durations {
			if d.source == nil {
				continue
			}
			if err := d.target.UnmarshalText([]byte(*d.source)); err != nil {
				return fmt.Errorf("connection.%s: %w", d.name, err)
			}
		}
	}

	if s := f.Store; s != nil {
		setIf(&cfg.Store.DSN, s.DSN)
	}

	if t := f.Telemetry; t != nil {
		setIf(&cfg.Telemetry.Enabled, t.Enabled)
		setIf(&cfg.Telemetry.ServiceName, t.ServiceName)
		if t.PublishInterval != nil {
			if err := cfg.Telemetry.PublishInterval.UnmarshalText([]byte(*t.PublishInterval)); err != nil {
				return fmt.Errorf("telemetry.publish_interval: %w", err)
			}
		}
	}

	for _, c := range f.Crons {
		data, err := ctyToMap(c.Data)
		if err != nil {
			return fmt.Errorf("cron %q data: %w", c.Name, err)
		}
		cfg.Crons = append(cfg.Crons, Cron{
			Name:     c.Name,
			Schedule: c.Schedule,
			Timezone: c.Timezone,
			Topic:    c.Topic,
			Data:     data,
		})
	}

	return nil
}

func setIf[T any](target *T, value *T) {
	if value != nil {
		*target = *value
	}
}

// ctyToMap converts an object value to plain JSON data.
func ctyToMap(val cty.Value) (map[string]any, error) {
	if val == cty.NilVal || val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	if t := val.Type(); !t.IsObjectType() && !t.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", t.FriendlyName())
	}

	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// envObject returns the environment as a cty object. Names that are not
// valid identifiers have the offending characters replaced with underscores.
func envObject() cty.Value {
	vars := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		vars[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}
	return cty.ObjectVal(vars)
}

func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range name {
		valid := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i > 0 {
			valid = valid || r == '-' || (r >= '0' && r <= '9')
		}
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
