package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/studiowebux/perfhttp/internal/check"
	"github.com/studiowebux/perfhttp/internal/executor"
	"github.com/studiowebux/perfhttp/internal/metrics"
)

var validMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// ParseHTTP parses a traditional .http file with ### separators.
//
// Comment annotations configure the request that follows its separator:
//
//	### 010_Login
//	# @check status EQUALS 200
//	# @check header Content-Type CONTAINS json
//	# @extract token=data.token
//	# @auth BASIC alice secret
//	# @timeout 5s
//	# @pause 100ms 300ms
//	# @sla 500ms 95
//	# @measureSize KB
//	# @allowHttpErrors true
//	# @followRedirects false
//	# @failFast true
//	POST {{baseUrl}}/login
//	Content-Type: application/json
//
//	{"user": "{{user}}"}
func ParseHTTP(r io.Reader) ([]Step, error) {
	var steps []Step
	var current *Step
	var bodyLines []string
	inBody := false
	lineNum := 0

	flush := func() {
		if current == nil {
			return
		}
		if inBody && len(bodyLines) > 0 {
			current.Body = strings.TrimRight(strings.Join(bodyLines, "\n"), "\n")
		}
		steps = append(steps, *current)
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		// New request separator
		if strings.HasPrefix(line, "###") {
			flush()
			current = &Step{
				Name:    strings.TrimSpace(strings.TrimPrefix(line, "###")),
				Headers: make(map[string]string),
			}
			bodyLines = nil
			inBody = false
			continue
		}

		if strings.HasPrefix(line, "#") && current != nil && !inBody {
			trimmed := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if strings.HasPrefix(trimmed, "@") {
				if err := applyAnnotation(current, trimmed); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNum, err)
				}
			}
			continue
		}

		// HTTP method and URL (e.g., GET http://example.com)
		if current != nil && current.Method == "" {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				method := strings.ToUpper(parts[0])
				for _, vm := range validMethods {
					if method == vm {
						current.Method = method
						current.URL = parts[1]
						break
					}
				}
			}
			continue
		}

		// Empty line after headers starts body
		if current != nil && strings.TrimSpace(line) == "" && !inBody {
			inBody = true
			continue
		}

		// Headers (Key: Value) - only parse as header if not in body
		if current != nil && !inBody && strings.Contains(line, ":") {
			// Indented lines are body content
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				inBody = true
				bodyLines = append(bodyLines, line)
				continue
			}

			key, value, _ := strings.Cut(line, ":")
			key = strings.TrimSpace(key)
			if key == "" || strings.ContainsAny(key, " \t{[\"'") {
				// Invalid header, treat as body start
				inBody = true
				bodyLines = append(bodyLines, line)
				continue
			}
			current.Headers[key] = strings.TrimSpace(value)
			continue
		}

		if current != nil && inBody {
			bodyLines = append(bodyLines, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrNoRequests
	}
	return steps, nil
}

func applyAnnotation(step *Step, annotation string) error {
	name, rest, _ := strings.Cut(annotation, " ")
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)

	switch name {
	case "@check":
		c, err := parseCheck(fields)
		if err != nil {
			return err
		}
		step.Checks = append(step.Checks, c)
	case "@extract":
		varName, path, ok := strings.Cut(rest, "=")
		if !ok {
			return fmt.Errorf("@extract expects name=expression, got: %q", rest)
		}
		if step.Extract == nil {
			step.Extract = make(map[string]string)
		}
		step.Extract[strings.TrimSpace(varName)] = strings.TrimSpace(path)
	case "@auth":
		if len(fields) == 0 {
			return fmt.Errorf("@auth expects a method")
		}
		spec := &AuthSpec{Method: fields[0]}
		if len(fields) > 1 {
			spec.Username = fields[1]
		}
		if len(fields) > 2 {
			spec.Password = fields[2]
		}
		step.Auth = spec
	case "@timeout":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return fmt.Errorf("@timeout: %w", err)
		}
		step.Timeout = d
	case "@pause":
		pause, err := parsePause(fields)
		if err != nil {
			return err
		}
		step.Pause = pause
	case "@sla":
		sla, err := parseSLA(fields)
		if err != nil {
			return err
		}
		step.SLA = sla
	case "@measureSize":
		step.MeasureSize = rest
	case "@allowHttpErrors":
		step.AllowHTTPErrors = rest == "true"
	case "@followRedirects":
		v := rest == "true"
		step.FollowRedirects = &v
	case "@failFast":
		v := rest == "true"
		step.FailFast = &v
	case "@contentType":
		step.ContentType = rest
	}
	// Unknown annotations are documentation
	return nil
}

// parseCheck reads "status EQUALS 200", "body CONTAINS some text" or
// "header Content-Type CONTAINS json"
func parseCheck(fields []string) (check.Check, error) {
	if len(fields) < 2 {
		return check.Check{}, fmt.Errorf("@check expects a target and a kind")
	}
	c := check.Check{Target: check.Target(strings.ToLower(fields[0]))}
	rest := fields[1:]
	if c.Target == check.Header {
		if len(rest) < 2 {
			return check.Check{}, fmt.Errorf("@check header expects a header name and a kind")
		}
		c.HeaderName = rest[0]
		rest = rest[1:]
	}
	c.Kind = check.Kind(strings.ToUpper(rest[0]))
	c.Expected = strings.Join(rest[1:], " ")
	return c, c.Validate()
}

func parsePause(fields []string) (*executor.Pause, error) {
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("@pause expects one or two durations")
	}
	var pause executor.Pause
	for i, f := range fields {
		d, err := time.ParseDuration(f)
		if err != nil {
			return nil, fmt.Errorf("@pause: %w", err)
		}
		if i == 0 {
			pause.Lower = d
		} else {
			pause.Upper = d
		}
	}
	return &pause, nil
}

// parseSLA reads "max [percentile [minSuccessRate]]"
func parseSLA(fields []string) (*metrics.SLA, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("@sla expects a max duration")
	}
	limit, err := time.ParseDuration(fields[0])
	if err != nil {
		return nil, fmt.Errorf("@sla: %w", err)
	}
	sla := &metrics.SLA{Max: limit}
	if len(fields) > 1 {
		if sla.Percentile, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, fmt.Errorf("@sla percentile: %w", err)
		}
	}
	if len(fields) > 2 {
		if sla.MinSuccessRate, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("@sla success rate: %w", err)
		}
	}
	return sla, nil
}
