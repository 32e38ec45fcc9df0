package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/config"
	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/logging"
	"github.com/studiowebux/perfhttp/internal/metrics"
	"github.com/studiowebux/perfhttp/internal/parser"
	"github.com/studiowebux/perfhttp/internal/scenario"
)

// ErrRunFailed is returned when at least one request was not successful
var ErrRunFailed = errors.New("run failed")

// RunOptions contains options for running a request file
type RunOptions struct {
	FilePath     string
	Workers      int
	ExtraVars    []string // key=value pairs from -e flag
	EnvFile      string   // path to .env file
	SettingsPath string
	OutputFormat string // text, json, yaml

	// Overrides for the settings file
	PAC         string
	DebugAll    bool
	DebugOnFail bool
	FailFast    bool
	LogLevel    string

	// Database overrides the settings; NoStore keeps metrics in memory
	Database string
	NoStore  bool
	Quiet    bool

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

func (o *RunOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
}

// Run executes a request file with the requested number of workers and
// prints a report. Metrics go to the SQLite store unless NoStore is set.
func Run(ctx context.Context, opts RunOptions) error {
	opts.defaults()

	settings, err := loadSettings(opts.SettingsPath)
	if err != nil {
		return err
	}
	applyOverrides(settings, opts)

	logger, closer, err := logging.New(settings.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	filePath, err := resolveFilePath(opts.FilePath, config.ScenariosDir)
	if err != nil {
		return err
	}
	file, err := parser.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse file: %w", err)
	}

	cliVars := parseExtraVars(opts.ExtraVars)

	// Load environment variables
	envVars := parser.LoadSystemEnv()
	if opts.EnvFile != "" {
		fileEnvVars, err := parser.LoadEnvFile(opts.EnvFile)
		if err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		// File vars override system vars
		for k, v := range fileEnvVars {
			envVars[k] = v
		}
	}

	if missing := missingVariables(file, cliVars, envVars); len(missing) > 0 {
		if !isInteractive(opts.Stdin) {
			return fmt.Errorf("missing variables (non-interactive mode): %s", strings.Join(missing, ", "))
		}
		reader := bufio.NewReader(opts.Stdin)
		for _, name := range missing {
			value, err := promptForVariable(reader, opts.Stderr, name)
			if err != nil {
				return fmt.Errorf("failed to read input for '%s': %w", name, err)
			}
			cliVars[name] = value
		}
	}

	root, err := settings.NewRootWorker(logger)
	if err != nil {
		return err
	}

	sink, finish, err := openSink(settings, opts, file.Name, logger)
	if err != nil {
		return err
	}

	exec := executor.New(executor.WithMetrics(sink))
	runnerOpts := []scenario.Option{
		scenario.WithVariables(parser.NewVariableResolver(file.Vars, cliVars, envVars)),
	}
	if !opts.Quiet {
		runnerOpts = append(runnerOpts, scenario.WithProgress(progressPrinter(opts.Stderr)))
	}
	runner := scenario.NewRunner(exec, root, file, runnerOpts...)

	logger.Info().Str("file", filePath).Int("workers", opts.Workers).Int("requests", len(file.Requests)).Msg("run started")
	res, err := runner.Run(ctx, opts.Workers)
	if err != nil {
		finish(metrics.RunStatusFailed)
		return err
	}

	failed := res.Failed > 0 || res.Err() != nil
	status := metrics.RunStatusCompleted
	if failed {
		status = metrics.RunStatusFailed
	}
	report, err := finish(status)
	if err != nil {
		return err
	}
	report.fill(file.Name, opts.Workers, res)

	output, err := report.format(opts.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprint(opts.Stdout, output)

	if failed {
		if werr := res.Err(); werr != nil {
			return fmt.Errorf("%w: %w", ErrRunFailed, werr)
		}
		return fmt.Errorf("%w: %d of %d requests failed", ErrRunFailed, res.Failed, res.Sent)
	}
	return nil
}

func loadSettings(path string) (*config.Settings, error) {
	if path != "" {
		return config.LoadSettings(path)
	}
	return config.LoadDefaultSettings()
}

func applyOverrides(s *config.Settings, opts RunOptions) {
	if opts.PAC != "" {
		s.PAC = opts.PAC
	}
	if opts.DebugAll {
		s.DebugLogAll = true
	}
	if opts.DebugOnFail {
		s.DebugLogOnFail = true
	}
	if opts.FailFast {
		s.ThrowOnFail = true
	}
	if opts.LogLevel != "" {
		s.Log.Level = opts.LogLevel
	}
	if s.Log.File == "" && config.LogDir != "" {
		s.Log.File = filepath.Join(config.LogDir, "perfhttp.log")
	}
}

// openSink returns the metrics sink for a run and a function that closes
// it and collects the report data
func openSink(s *config.Settings, opts RunOptions, name string, logger zerolog.Logger) (metrics.Sink, func(string) (*Report, error), error) {
	dbPath := opts.Database
	if dbPath == "" && !opts.NoStore {
		var err error
		if dbPath, err = s.DatabaseFile(); err != nil {
			return nil, nil, err
		}
	}

	if opts.NoStore || dbPath == "" {
		mem := metrics.NewMemory()
		return mem, func(string) (*Report, error) {
			return newReport(mem.Summaries(), mem.Errors()), nil
		}, nil
	}

	store, err := metrics.NewStore(dbPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metrics store: %w", err)
	}
	run, err := store.StartRun(name)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return store, func(status string) (*Report, error) {
		defer store.Close()
		if err := store.FinishRun(status); err != nil {
			return nil, err
		}
		summaries, err := store.Summaries(run.ID)
		if err != nil {
			return nil, err
		}
		errs, err := store.Errors(run.ID)
		if err != nil {
			return nil, err
		}
		report := newReport(summaries, errs)
		report.RunID = run.UUID
		return report, nil
	}, nil
}

// parseExtraVars reads key=value pairs. A bare key sets an empty value.
func parseExtraVars(extra []string) map[string]string {
	cliVars := make(map[string]string)
	for _, ev := range extra {
		key, value, ok := strings.Cut(ev, "=")
		if ok {
			cliVars[key] = value
		} else if key != "" {
			cliVars[key] = ""
		}
	}
	return cliVars
}

// missingVariables lists variables no layer can provide. Names filled by
// an extraction of an earlier step are not missing.
func missingVariables(file *parser.File, cliVars, envVars map[string]string) []string {
	provided := make(map[string]bool)
	for k := range file.Vars {
		provided[k] = true
	}
	for k := range cliVars {
		provided[k] = true
	}

	seen := make(map[string]bool)
	var missing []string
	for _, step := range file.Requests {
		for _, name := range stepVariables(&step) {
			if provided[name] || seen[name] {
				continue
			}
			if envKey, ok := strings.CutPrefix(name, "env."); ok {
				if _, ok := envVars[envKey]; ok {
					continue
				}
			}
			seen[name] = true
			missing = append(missing, name)
		}
		for name := range step.Extract {
			provided[name] = true
		}
	}
	return missing
}

func stepVariables(step *parser.Step) []string {
	texts := []string{step.URL, step.Body, step.ContentType}
	for _, v := range sortedValues(step.Params) {
		texts = append(texts, v)
	}
	for _, v := range sortedValues(step.Headers) {
		texts = append(texts, v)
	}
	for _, c := range step.Checks {
		texts = append(texts, c.Expected)
	}
	for _, v := range step.JSON {
		if s, ok := v.(string); ok {
			texts = append(texts, s)
		}
	}
	if a := step.Auth; a != nil {
		texts = append(texts, a.Username, a.Password, a.ClientID, a.ClientSecret, a.TokenURL, a.Krb5Config, a.SPN)
	}
	return parser.ExtractVariableNames(strings.Join(texts, "\n"))
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}

// promptForVariable prompts the user to enter a value for a variable
func promptForVariable(reader *bufio.Reader, out io.Writer, name string) (string, error) {
	fmt.Fprintf(out, "Enter value for '%s': ", name)
	value, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && value != "") {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// isInteractive checks if stdin is a terminal (not piped)
func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// resolveFilePath attempts to find the actual file path, trying common extensions
// if the exact path doesn't exist. Returns the resolved path and any error.
func resolveFilePath(basePath, workdir string) (string, error) {
	// Supported extensions in priority order (empty string = exact match first)
	extensions := []string{"", ".yaml", ".yml", ".jsonc", ".json", ".http"}

	// If absolute path, only check with extensions
	if filepath.IsAbs(basePath) {
		for _, ext := range extensions {
			candidate := basePath + ext
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("file not found: %s (tried .yaml, .yml, .jsonc, .json, .http extensions)", basePath)
	}

	// Check in current directory first
	for _, ext := range extensions {
		candidate := basePath + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	// Check in workdir
	if workdir != "" {
		for _, ext := range extensions {
			candidate := filepath.Join(workdir, basePath+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("file not found: %s (searched current directory and %s, tried .yaml, .yml, .jsonc, .json, .http extensions)", basePath, workdir)
}
