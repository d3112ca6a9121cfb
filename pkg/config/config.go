// Package config holds the deployment configuration: the remote host, the
// archive layout and the service name. Values come from a YAML file and can
// be overridden by WEBDEPLOY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/andrej220/webdeploy/pkg/archive"
	"github.com/andrej220/webdeploy/pkg/config/configstore"
	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	EnvPrefix       = "WEBDEPLOY_"
	DefaultFileName = "webdeploy.yaml"
)

var (
	ErrInvalid = errors.New("invalid configuration")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

type SSH struct {
	Host                  string        `yaml:"host" json:"host" env:"HOST" validate:"required,hostname_rfc1123|ip"`
	Port                  int           `yaml:"port" json:"port" env:"PORT" validate:"min=1,max=65535"`
	User                  string        `yaml:"user" json:"user" env:"USER" validate:"required"`
	KeyFile               string        `yaml:"key_file,omitempty" json:"key_file,omitempty" env:"KEY_FILE"`
	Password              string        `yaml:"password,omitempty" json:"-" env:"PASSWORD"`
	UseAgent              bool          `yaml:"use_agent" json:"use_agent" env:"USE_AGENT"`
	KnownHosts            string        `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty" env:"KNOWN_HOSTS"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty" json:"insecure_ignore_host_key,omitempty" env:"INSECURE_IGNORE_HOST_KEY"`
	Timeout               time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Retries               uint64        `yaml:"retries" json:"retries" env:"RETRIES" validate:"max=10"`
}

type Remote struct {
	Dir string `yaml:"dir" json:"dir" env:"DIR" validate:"required"`
}

type Archive struct {
	Name    string   `yaml:"name" json:"name" env:"NAME" validate:"required,excludesall=/\\"`
	Sources []string `yaml:"sources" json:"sources" env:"SOURCES" validate:"min=1,dive,required"`
	Method  string   `yaml:"method" json:"method" env:"METHOD" validate:"oneof=shell native"`
	// Dir is the local directory the sources are relative to.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" env:"DIR"`
}

type Service struct {
	Name string `yaml:"name" json:"name" env:"NAME" validate:"required"`
}

type Sudo struct {
	Password string `yaml:"password,omitempty" json:"-" env:"PASSWORD"`
}

type Config struct {
	SSH     SSH     `yaml:"ssh" json:"ssh" envPrefix:"SSH_"`
	Remote  Remote  `yaml:"remote" json:"remote" envPrefix:"REMOTE_"`
	Archive Archive `yaml:"archive" json:"archive" envPrefix:"ARCHIVE_"`
	Service Service `yaml:"service" json:"service" envPrefix:"SERVICE_"`
	Sudo    Sudo    `yaml:"sudo,omitempty" json:"sudo,omitempty" envPrefix:"SUDO_"`
}

// Default returns the configuration of the original deployment: web/ and
// static/ packed into cydev_web.tgz, unpacked in ~/cydev.ru, service "web".
func Default() *Config {
	return &Config{
		SSH: SSH{
			Port:       executor.DefaultPort,
			UseAgent:   true,
			KnownHosts: executor.DefaultKnownHosts,
			Timeout:    executor.DefaultTimeout,
		},
		Remote: Remote{Dir: "~/cydev.ru"},
		Archive: Archive{
			Name:    "cydev_web.tgz",
			Sources: []string{"web", "static"},
			Method:  archive.MethodShell,
		},
		Service: Service{Name: "web"},
	}
}

// Load applies the store's document and then the environment on top of the
// defaults, and validates the result. A missing file is not an error as long
// as the environment supplies what is required.
func Load(store configstore.ConfigStore) (*Config, error) {
	cfg := Default()
	if store != nil {
		if err := store.Load(cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with WEBDEPLOY_* variables. When environ is nil the
// process environment is used.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
}

// SSHConfig converts the ssh section into the executor's connection config.
func (c *Config) SSHConfig() executor.SSHConfig {
	return executor.SSHConfig{
		Host:                  c.SSH.Host,
		Port:                  c.SSH.Port,
		User:                  c.SSH.User,
		KeyFile:               c.SSH.KeyFile,
		Password:              c.SSH.Password,
		UseAgent:              c.SSH.UseAgent,
		KnownHosts:            c.SSH.KnownHosts,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
		Timeout:               c.SSH.Timeout,
		Retries:               c.SSH.Retries,
	}
}

// ArchiveSpec returns the archive layout rooted at the configured local dir.
func (c *Config) ArchiveSpec() archive.Spec {
	dir := c.Archive.Dir
	if dir == "" {
		dir = "."
	}
	return archive.Spec{Dir: dir, Name: c.Archive.Name, Sources: c.Archive.Sources}
}
