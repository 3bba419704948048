// Package config loads todosync settings.
//
// Settings merge, highest precedence first: bound command-line flags,
// TODOSYNC_* environment variables, the config file, defaults. The merged
// settings are validated against the embedded CUE schema before they are
// decoded.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment variable, e.g. TODOSYNC_REMOTE_DSN.
const EnvPrefix = "TODOSYNC"

// Config is the decoded settings tree.
type Config struct {
	Remote  Remote  `mapstructure:"remote"`
	Session Session `mapstructure:"session"`
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
}

// Remote selects the remote store.
type Remote struct {
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Session identifies the user.
type Session struct {
	Owner     string `mapstructure:"owner"`
	Token     string `mapstructure:"token"`
	JWTSecret string `mapstructure:"jwt_secret"`
	StateDir  string `mapstructure:"state_dir"`
}

// Server configures `todosync serve`.
type Server struct {
	Addr string `mapstructure:"addr"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Defaults.
const (
	DefaultDSN      = "memory://"
	DefaultTimeout  = "10s"
	DefaultAddr     = ":8080"
	DefaultLogLevel = "info"
)

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("remote.dsn", DefaultDSN)
	v.SetDefault("remote.timeout", DefaultTimeout)
	v.SetDefault("session.owner", "")
	v.SetDefault("session.token", "")
	v.SetDefault("session.jwt_secret", "")
	v.SetDefault("session.state_dir", "")
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if set, into v, validates the merged settings and
// decodes them.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := Validate(v.AllSettings()); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateFile checks a config file on its own, without defaults or
// environment.
func ValidateFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return Validate(v.AllSettings())
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks settings against the schema.
func Validate(settings map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	data := ctx.Encode(settings)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, strings.TrimSpace(cueerrors.Details(e, nil)))
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}
