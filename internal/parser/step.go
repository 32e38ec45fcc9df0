package parser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/studiowebux/perfhttp/internal/auth"
	"github.com/studiowebux/perfhttp/internal/check"
	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/metrics"
)

// AuthSpec is the auth block of a request
type AuthSpec struct {
	Method   string `yaml:"method"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CLIENT_CREDENTIALS
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	TokenURL     string   `yaml:"tokenUrl"`
	Scopes       []string `yaml:"scopes"`

	// KERBEROS
	Krb5Config string `yaml:"krb5Config"`
	SPN        string `yaml:"spn"`
}

// Step is one request of a scenario before variables are resolved
type Step struct {
	// Name doubles as the metric name. Unnamed steps are not measured.
	Name        string            `yaml:"name"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Params      map[string]string `yaml:"params"`
	Headers     map[string]string `yaml:"headers"`
	Body        string            `yaml:"body"`
	ContentType string            `yaml:"contentType"`

	// JSON sets fields of the body by path, e.g. user.name
	JSON map[string]any `yaml:"json"`

	Auth            *AuthSpec       `yaml:"auth"`
	Checks          []check.Check   `yaml:"checks"`
	SLA             *metrics.SLA    `yaml:"sla"`
	Timeout         time.Duration   `yaml:"timeout"`
	Pause           *executor.Pause `yaml:"pause"`
	AllowHTTPErrors bool            `yaml:"allowHttpErrors"`
	FollowRedirects *bool           `yaml:"followRedirects"`
	MeasureSize     string          `yaml:"measureSize"`
	FailFast        *bool           `yaml:"failFast"`

	// Extract maps variable names to JMESPath expressions on the response
	Extract map[string]string `yaml:"extract"`
}

// Label names the step in errors
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.TrimSpace(s.Method + " " + s.URL)
}

// Validate checks what can be checked before variables are resolved
func (s *Step) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("url is required")
	}
	for i, c := range s.Checks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("check %d: %w", i+1, err)
		}
	}
	if _, err := executor.ParseSizeUnit(s.MeasureSize); err != nil {
		return err
	}
	if s.Timeout < 0 {
		return errors.New("timeout must be positive")
	}
	if s.Auth != nil {
		if _, err := s.Auth.config(func(v string) string { return v }); err != nil {
			return err
		}
	}
	return nil
}

// Build resolves variables and returns the request to send
func (s *Step) Build(vr *VariableResolver) (*executor.Request, error) {
	vr.resetUnresolved()
	req := executor.NewRequest(s.Method, vr.Resolve(s.URL))
	req.Metric = s.Name
	req.Body = vr.Resolve(s.Body)
	req.ContentType = vr.Resolve(s.ContentType)

	for k, v := range s.Params {
		req.Param(k, vr.Resolve(v))
	}
	for k, v := range s.Headers {
		req.Header(k, vr.Resolve(v))
	}

	// Sorted so nested paths apply in a stable order
	paths := make([]string, 0, len(s.JSON))
	for path := range s.JSON {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		value := s.JSON[path]
		if str, ok := value.(string); ok {
			value = vr.Resolve(str)
		}
		if err := req.SetJSONField(path, value); err != nil {
			return nil, err
		}
	}

	if s.Auth != nil {
		cfg, err := s.Auth.config(vr.Resolve)
		if err != nil {
			return nil, err
		}
		req.WithAuth(cfg)
	}

	for _, c := range s.Checks {
		c.Expected = vr.Resolve(c.Expected)
		req.AddCheck(c)
	}

	unit, err := executor.ParseSizeUnit(s.MeasureSize)
	if err != nil {
		return nil, err
	}
	req.MeasureSize = unit
	req.SLA = s.SLA
	req.Timeout = s.Timeout
	req.Pause = s.Pause
	req.AllowHTTPErrors = s.AllowHTTPErrors
	req.DisableFollowRedirects = s.FollowRedirects != nil && !*s.FollowRedirects
	req.ThrowOnFail = s.FailFast

	if unresolved := vr.GetUnresolvedVariables(); len(unresolved) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return req, nil
}

func (a *AuthSpec) config(resolve func(string) string) (auth.Config, error) {
	if strings.EqualFold(a.Method, "CLIENT_CREDENTIALS") {
		if a.TokenURL == "" {
			return nil, errors.New("client credentials need a tokenUrl")
		}
		scopes := make([]string, len(a.Scopes))
		for i, s := range a.Scopes {
			scopes[i] = resolve(s)
		}
		return auth.ClientCredentials{
			ClientID:     resolve(a.ClientID),
			ClientSecret: resolve(a.ClientSecret),
			TokenURL:     resolve(a.TokenURL),
			Scopes:       scopes,
		}, nil
	}

	cfg, err := auth.FromMethod(a.Method, resolve(a.Username), resolve(a.Password))
	if err != nil {
		return nil, err
	}
	if k, ok := cfg.(auth.Kerberos); ok {
		k.Krb5ConfPath = resolve(a.Krb5Config)
		k.SPN = resolve(a.SPN)
		cfg = k
	}
	return cfg, nil
}
