package parser

import (
	"bufio"
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"
)

// Variable placeholder pattern: {{varName}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// VariableResolver handles variable resolution for requests.
// A resolver belongs to one worker; extracted values stay with it.
type VariableResolver struct {
	// Variables are resolved in order: cliVars (highest) -> session vars -> file vars (lowest)
	fileVars    map[string]string
	sessionVars map[string]string
	cliVars     map[string]string // CLI vars from -e flag (highest priority)
	envVars     map[string]string // Environment variables (accessed via {{env.VAR_NAME}})
	unresolved  []string          // Track unresolved variable names
}

// NewVariableResolver creates a new variable resolver.
// Any of the maps may be nil.
func NewVariableResolver(fileVars, cliVars, envVars map[string]string) *VariableResolver {
	if fileVars == nil {
		fileVars = make(map[string]string)
	}
	if cliVars == nil {
		cliVars = make(map[string]string)
	}
	if envVars == nil {
		envVars = make(map[string]string)
	}

	return &VariableResolver{
		fileVars:    fileVars,
		sessionVars: make(map[string]string),
		cliVars:     cliVars,
		envVars:     envVars,
	}
}

// Fork returns a resolver sharing the read-only layers with its own session
// vars, seeded with a copy of the current ones
func (vr *VariableResolver) Fork() *VariableResolver {
	return &VariableResolver{
		fileVars:    vr.fileVars,
		sessionVars: maps.Clone(vr.sessionVars),
		cliVars:     vr.cliVars,
		envVars:     vr.envVars,
	}
}

// GetUnresolvedVariables returns the unique variable names the last
// resolutions could not find
func (vr *VariableResolver) GetUnresolvedVariables() []string {
	seen := make(map[string]bool)
	unique := []string{}
	for _, v := range vr.unresolved {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	return unique
}

func (vr *VariableResolver) resetUnresolved() {
	vr.unresolved = vr.unresolved[:0]
}

// ExtractVariableNames extracts all unique variable names from a string
// Returns variable names without the {{ }} brackets
func ExtractVariableNames(input string) []string {
	matches := varPattern.FindAllStringSubmatch(input, -1)
	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if len(match) > 1 {
			name := strings.TrimSpace(match[1])
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// LoadEnvFile loads environment variables from a .env file
func LoadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue // Skip malformed lines
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		envVars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading env file: %w", err)
	}

	return envVars, nil
}

// LoadSystemEnv loads all system environment variables
func LoadSystemEnv() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envVars[key] = value
		}
	}
	return envVars
}

// Resolve replaces {{varName}} and {{env.NAME}} placeholders.
// Unknown names are left in place and tracked.
func (vr *VariableResolver) Resolve(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return varPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])

		if envKey, ok := strings.CutPrefix(varName, "env."); ok {
			if value, ok := vr.envVars[envKey]; ok {
				return value
			}
			vr.unresolved = append(vr.unresolved, varName)
			return match
		}

		if value, ok := vr.cliVars[varName]; ok {
			return value
		}
		if value, ok := vr.sessionVars[varName]; ok {
			return value
		}
		if value, ok := vr.fileVars[varName]; ok {
			return value
		}

		vr.unresolved = append(vr.unresolved, varName)
		return match
	})
}

// AddSessionVariable adds or updates a session variable
func (vr *VariableResolver) AddSessionVariable(name, value string) {
	vr.sessionVars[name] = value
}

// GetSessionVariables returns a copy of the session variables
func (vr *VariableResolver) GetSessionVariables() map[string]string {
	return maps.Clone(vr.sessionVars)
}
