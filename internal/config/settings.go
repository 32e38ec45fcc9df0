package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/keystore"
	"github.com/studiowebux/perfhttp/internal/logging"
	"github.com/studiowebux/perfhttp/internal/worker"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const defaultSettingsYAML = `# perfhttp settings
responseTimeout: 10m
pause:
  lower: 0s
  upper: 0s
debugLogAll: false
debugLogOnFail: false
throwOnFail: false
trustAllCertificates: true
log:
  level: info
  writer: [console]
`

// Settings are the defaults every root worker starts from
type Settings struct {
	ResponseTimeout      time.Duration     `yaml:"responseTimeout"`
	Pause                executor.Pause    `yaml:"pause"`
	DebugLogAll          bool              `yaml:"debugLogAll"`
	DebugLogOnFail       bool              `yaml:"debugLogOnFail"`
	ThrowOnFail          bool              `yaml:"throwOnFail"`
	TrustAllCertificates *bool             `yaml:"trustAllCertificates"`
	PAC                  string            `yaml:"pac"`
	LogDetails           map[string]string `yaml:"logDetails"`
	Keystore             keystore.Settings `yaml:"keystore"`
	Log                  logging.Options   `yaml:"log"`

	// Database is the metrics database; empty means DatabasePath
	Database string `yaml:"database"`
}

// DefaultSettings returns the settings used when no file exists
func DefaultSettings() *Settings {
	return &Settings{
		ResponseTimeout: worker.DefaultResponseTimeout,
		Log:             logging.DefaultOptions(),
	}
}

// LoadSettings reads a YAML or JSON (comments allowed) settings file.
// Fields missing from the file keep their defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data, filepath.Ext(path))
}

// LoadDefaultSettings loads the local or global settings file, falling back
// to defaults when neither exists
func LoadDefaultSettings() (*Settings, error) {
	path := GetSettingsFilePath()
	if path == "" {
		return DefaultSettings(), nil
	}
	s, err := LoadSettings(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}
	return s, err
}

// ParseSettings decodes settings; ext selects JSON handling for .json and .jsonc
func ParseSettings(data []byte, ext string) (*Settings, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects values a worker cannot use
func (s *Settings) Validate() error {
	if s.ResponseTimeout < 0 {
		return fmt.Errorf("responseTimeout cannot be negative")
	}
	if s.Pause.Lower < 0 || s.Pause.Upper < 0 {
		return fmt.Errorf("pause cannot be negative")
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

// DatabaseFile returns the metrics database path
func (s *Settings) DatabaseFile() (string, error) {
	if s.Database == "" {
		return DatabasePath, nil
	}
	return ResolvePath(s.Database)
}

// NewRootWorker creates a worker carrying these settings and points the
// process keystore at the configured file
func (s *Settings) NewRootWorker(logger zerolog.Logger, opts ...worker.Option) (*worker.Context, error) {
	w := worker.New(append([]worker.Option{worker.WithLogger(logger)}, opts...)...)

	w.SetResponseTimeout(s.ResponseTimeout)
	if s.Pause.Upper > 0 {
		w.SetPauseRange(s.Pause.Lower, s.Pause.Upper)
	} else {
		w.SetPause(s.Pause.Lower)
	}
	w.SetDebugLogAll(s.DebugLogAll)
	w.SetDebugLogOnFail(s.DebugLogOnFail)
	w.SetThrowOnFail(s.ThrowOnFail)
	if s.TrustAllCertificates != nil {
		w.SetTrustAllCertificates(*s.TrustAllCertificates)
	}

	if s.PAC != "" {
		if err := w.SetPACSource(s.PAC); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(s.LogDetails))
	for k := range s.LogDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.AddLogDetail(k, s.LogDetails[k])
	}

	if s.Keystore.Path != "" {
		path, err := ResolvePath(s.Keystore.Path)
		if err != nil {
			return nil, err
		}
		ks := s.Keystore
		ks.Path = path
		keystore.SetLogger(logger)
		if err := keystore.Configure(ks); err != nil {
			logger.Warn().Err(err).Str("path", ks.Path).Msg("keystore settings ignored")
		}
	}
	return w, nil
}
