package check

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/metrics"
)

// regexTimeout bounds a single regex evaluation against a response
const regexTimeout = 2 * time.Second

// Kind is the comparison a check performs
type Kind string

const (
	Contains          Kind = "CONTAINS"
	DoesNotContain    Kind = "DOES_NOT_CONTAIN"
	Equals            Kind = "EQUALS"
	NotEquals         Kind = "NOT_EQUALS"
	MatchRegex        Kind = "MATCH_REGEX"
	DoesNotMatchRegex Kind = "DOES_NOT_MATCH_REGEX"
)

// Target is the part of the response a check inspects
type Target string

const (
	Body   Target = "body"
	Header Target = "header"
	Status Target = "status"
)

// Response is what checks read from
type Response interface {
	HasTransportError() bool
	Body() string
	Header(name string) string
	Status() int
}

// Check is one declarative assertion on a response
type Check struct {
	Target     Target `yaml:"target" json:"target"`
	Kind       Kind   `yaml:"kind" json:"kind"`
	HeaderName string `yaml:"header,omitempty" json:"header,omitempty"`
	Expected   string `yaml:"value" json:"value"`

	// Message replaces the generated failure message
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// OmitLogDetails stops the worker's log details being appended to the message
	OmitLogDetails bool `yaml:"omitLogDetails,omitempty" json:"omitLogDetails,omitempty"`
}

func OnBody(kind Kind, expected string) Check {
	return Check{Target: Body, Kind: kind, Expected: expected}
}

func OnHeader(name string, kind Kind, expected string) Check {
	return Check{Target: Header, HeaderName: name, Kind: kind, Expected: expected}
}

func OnStatus(kind Kind, expected int) Check {
	return Check{Target: Status, Kind: kind, Expected: strconv.Itoa(expected)}
}

// Validate reports unknown kinds, targets and invalid patterns
func (c Check) Validate() error {
	switch c.Target {
	case Body, Status:
	case Header:
		if c.HeaderName == "" {
			return fmt.Errorf("header check requires a header name")
		}
	default:
		return fmt.Errorf("unknown check target %q", c.Target)
	}

	switch c.Kind {
	case Contains, DoesNotContain, Equals, NotEquals:
	case MatchRegex, DoesNotMatchRegex:
		if _, err := compile(c.Expected); err != nil {
			return fmt.Errorf("invalid check pattern %q: %w", c.Expected, err)
		}
	default:
		return fmt.Errorf("unknown check kind %q", c.Kind)
	}
	return nil
}

// Evaluate runs the check. A response with a transport error never passes.
func (c Check) Evaluate(resp Response) (bool, error) {
	if resp == nil || resp.HasTransportError() {
		return false, nil
	}

	var text string
	switch c.Target {
	case Body:
		text = resp.Body()
	case Header:
		text = resp.Header(c.HeaderName)
	case Status:
		text = strconv.Itoa(resp.Status())
	default:
		return false, fmt.Errorf("unknown check target %q", c.Target)
	}

	return match(c.Kind, text, c.Expected)
}

func match(kind Kind, text, expected string) (bool, error) {
	switch kind {
	case Contains:
		return strings.Contains(text, expected), nil
	case DoesNotContain:
		return !strings.Contains(text, expected), nil
	case Equals:
		return text == expected, nil
	case NotEquals:
		return text != expected, nil
	case MatchRegex, DoesNotMatchRegex:
		re, err := compile(expected)
		if err != nil {
			return false, err
		}
		found, err := re.MatchString(text)
		if err != nil {
			return false, err
		}
		if kind == DoesNotMatchRegex {
			return !found, nil
		}
		return found, nil
	default:
		return false, fmt.Errorf("unknown check kind %q", kind)
	}
}

// DefaultMessage describes the check, e.g.
// HTTP response check failed: header "Content-Type" CONTAINS "json"
func (c Check) DefaultMessage() string {
	var b strings.Builder
	b.WriteString("HTTP response check failed: ")
	b.WriteString(strings.ToLower(string(c.Target)))
	b.WriteString(" ")
	if c.Target == Header && c.HeaderName != "" {
		b.WriteString(strconv.Quote(c.HeaderName))
		b.WriteString(" ")
	}
	b.WriteString(string(c.Kind))
	b.WriteString(" ")
	b.WriteString(strconv.Quote(c.Expected))
	return b.String()
}

var patterns sync.Map

func compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp2.Regexp), nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	actual, _ := patterns.LoadOrStore(pattern, re)
	return actual.(*regexp2.Regexp), nil
}

// Options carries the collaborators a failing check reports to
type Options struct {
	Record     metrics.Record
	Reporter   metrics.Reporter
	LogDetails string
	Logger     *zerolog.Logger
}

// RunAll evaluates checks in order and stops at the first failure. The failing
// check's message is logged and reported, and the record is marked failed.
func RunAll(checks []Check, resp Response, opts Options) bool {
	for _, c := range checks {
		if resp == nil || resp.HasTransportError() {
			return false
		}

		ok, err := c.Evaluate(resp)
		if ok {
			continue
		}

		message := c.Message
		if message == "" {
			message = c.DefaultMessage()
		}
		if err != nil {
			message += ": " + err.Error()
		}
		if !c.OmitLogDetails {
			message += opts.LogDetails
		}

		if opts.Logger != nil {
			opts.Logger.Error().Str("target", string(c.Target)).Str("kind", string(c.Kind)).Msg(message)
		}
		if opts.Record != nil {
			opts.Record.SetStatus(metrics.StatusFailed)
		}
		if opts.Reporter != nil {
			opts.Reporter.ReportError(message, opts.Record)
		}
		return false
	}
	return true
}
