package mock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	PathExact  = "exact"
	PathPrefix = "prefix"
	PathRegex  = "regex"
)

// Config describes a stub target for rehearsing scenarios locally
type Config struct {
	Addr   string  `yaml:"addr"`
	Routes []Route `yaml:"routes"`

	compiled bool
}

// Route is one canned response. Routes are matched in order.
type Route struct {
	Name     string            `yaml:"name"`
	Method   string            `yaml:"method"`
	Path     string            `yaml:"path"`
	PathType string            `yaml:"pathType"`
	Status   int               `yaml:"status"`
	Headers  map[string]string `yaml:"headers"`
	Cookies  map[string]string `yaml:"cookies"`
	Body     string            `yaml:"body"`
	BodyFile string            `yaml:"bodyFile"`

	// Delay is the minimum latency; with DelayMax the latency is drawn
	// uniformly from [Delay, DelayMax].
	Delay    time.Duration `yaml:"delay"`
	DelayMax time.Duration `yaml:"delayMax"`

	// BasicAuth answers 401 with a Basic challenge unless the request
	// carries these credentials, formatted as user:password.
	BasicAuth string `yaml:"basicAuth"`

	pattern *regexp2.Regexp
	body    []byte
}

// Label names the route in logs and request records
func (r *Route) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return strings.ToUpper(r.Method) + " " + r.Path
}

// LoadConfig reads a YAML, JSON or JSONC stub definition. Relative body
// files are read from the config file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	default:
		return nil, fmt.Errorf("unsupported mock config format: %s (use .yaml, .yml, .json or .jsonc)", ext)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse mock config: %w", err)
	}
	if err := cfg.compile(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("invalid mock config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) compile(dir string) error {
	if c.compiled {
		return nil
	}
	if len(c.Routes) == 0 {
		return errors.New("no routes defined")
	}

	for i := range c.Routes {
		route := &c.Routes[i]
		if route.Method == "" {
			return fmt.Errorf("route %d: method is required", i)
		}
		if route.Path == "" {
			return fmt.Errorf("route %d: path is required", i)
		}
		if route.Delay < 0 || (route.DelayMax > 0 && route.DelayMax < route.Delay) {
			return fmt.Errorf("route %d: delayMax must not be lower than delay", i)
		}
		if route.BasicAuth != "" && !strings.Contains(route.BasicAuth, ":") {
			return fmt.Errorf("route %d: basicAuth must be user:password", i)
		}

		switch route.PathType {
		case "", PathExact, PathPrefix:
		case PathRegex:
			re, err := regexp2.Compile(route.Path, regexp2.None)
			if err != nil {
				return fmt.Errorf("route %d: invalid path regex: %w", i, err)
			}
			re.MatchTimeout = time.Second
			route.pattern = re
		default:
			return fmt.Errorf("route %d: pathType must be 'exact', 'prefix', or 'regex'", i)
		}

		if route.BodyFile != "" {
			file := route.BodyFile
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("route %d: failed to read body file: %w", i, err)
			}
			route.body = data
		} else {
			route.body = []byte(route.Body)
		}
	}
	c.compiled = true
	return nil
}

func (r *Route) matches(method, path string) bool {
	if !strings.EqualFold(r.Method, method) && r.Method != "*" {
		return false
	}
	switch r.PathType {
	case PathPrefix:
		return strings.HasPrefix(path, r.Path)
	case PathRegex:
		ok, err := r.pattern.MatchString(path)
		return err == nil && ok
	default:
		return r.Path == path
	}
}
