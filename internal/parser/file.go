package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrNoRequests is returned for a file without any request
var ErrNoRequests = errors.New("no requests found")

// File is a scenario: an ordered list of requests run by every worker
type File struct {
	Name string            `yaml:"name"`
	Vars map[string]string `yaml:"vars"`

	// PAC is the proxy auto-config source used by workers running this file
	PAC      string `yaml:"pac"`
	Requests []Step `yaml:"requests"`
}

// Validate checks every step
func (f *File) Validate() error {
	if len(f.Requests) == 0 {
		return ErrNoRequests
	}
	for i := range f.Requests {
		if err := f.Requests[i].Validate(); err != nil {
			return fmt.Errorf("request %d (%s): %w", i+1, f.Requests[i].Label(), err)
		}
	}
	return nil
}

// ParseFile reads a scenario from a .yaml, .yml, .json, .jsonc or .http file
func ParseFile(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	format, err := DetectFormat(filePath, data)
	if err != nil {
		return nil, err
	}

	var file *File
	if format == "http" {
		steps, err := ParseHTTP(strings.NewReader(string(data)))
		if err != nil {
			return nil, err
		}
		file = &File{Requests: steps}
	} else {
		file, err = Parse(data, format)
		if err != nil {
			return nil, err
		}
	}

	if file.Name == "" {
		file.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

// Parse decodes a structured scenario. format is "yaml", "json" or "jsonc".
// A document holding a bare list of requests is accepted too.
func Parse(data []byte, format string) (*File, error) {
	if format == "json" || format == "jsonc" {
		// JSON is a subset of YAML once comments and trailing commas are gone
		data = jsonc.ToJSON(data)
	}

	var steps []Step
	if err := yaml.Unmarshal(data, &steps); err == nil && len(steps) > 0 {
		return &File{Requests: steps}, nil
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", strings.ToUpper(format), err)
	}
	return &file, nil
}

// DetectFormat detects whether a file is .http text, YAML or JSON
func DetectFormat(filePath string, data []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	case ".jsonc":
		return "jsonc", nil
	case ".http", ".rest", "":
		// Structured content saved with a .http extension
		content := strings.TrimSpace(string(data))
		if strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[") {
			return "jsonc", nil
		}
		if strings.HasPrefix(content, "---") {
			return "yaml", nil
		}
		return "http", nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", ext)
	}
}
