package proxy

import (
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultPort is used when a PROXY directive omits the port
const DefaultPort = 80

// Type is the kind of a PAC directive
type Type string

const (
	TypeDirect Type = "DIRECT"
	TypeProxy  Type = "PROXY"
)

// Candidate is one entry of a PAC result, in preference order
type Candidate struct {
	Type Type
	Host string
	Port int
}

// Direct means connect without a proxy
var Direct = Candidate{Type: TypeDirect}

// Address returns host:port for PROXY candidates
func (c Candidate) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Candidate) String() string {
	if c.Type == TypeDirect {
		return string(TypeDirect)
	}
	return string(c.Type) + " " + c.Address()
}

// ParseDirectives parses a FindProxyForURL result such as
// "PROXY a:8080; PROXY b; DIRECT". Entries that cannot be used are logged and
// dropped; their siblings are kept.
func ParseDirectives(result string, logger zerolog.Logger) []Candidate {
	var candidates []Candidate

	for _, part := range strings.Split(result, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kind, rest, _ := strings.Cut(part, " ")
		kind = strings.ToUpper(strings.TrimSpace(kind))
		rest = strings.TrimSpace(rest)

		switch Type(kind) {
		case TypeDirect:
			candidates = append(candidates, Direct)
		case TypeProxy:
			c, ok := parseProxy(rest, logger)
			if ok {
				candidates = append(candidates, c)
			}
		default:
			logger.Warn().Str("directive", part).Msg("unsupported PAC directive, skipping")
		}
	}

	return candidates
}

func parseProxy(hostPort string, logger zerolog.Logger) (Candidate, bool) {
	if hostPort == "" {
		logger.Warn().Msg("PAC PROXY directive without host, skipping")
		return Candidate{}, false
	}

	host, portStr, found := cutPort(hostPort)
	if !found {
		return Candidate{Type: TypeProxy, Host: host, Port: DefaultPort}, true
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		logger.Warn().Str("proxy", hostPort).Msg("malformed port in PAC PROXY directive, skipping")
		return Candidate{}, false
	}
	return Candidate{Type: TypeProxy, Host: host, Port: port}, true
}

// cutPort splits on the last colon, keeping bracketed IPv6 hosts intact
func cutPort(hostPort string) (host, port string, found bool) {
	if strings.HasPrefix(hostPort, "[") {
		end := strings.Index(hostPort, "]")
		if end < 0 {
			return hostPort, "", false
		}
		host = hostPort[1:end]
		rest := hostPort[end+1:]
		if strings.HasPrefix(rest, ":") {
			return host, rest[1:], true
		}
		return host, "", false
	}

	i := strings.LastIndex(hostPort, ":")
	if i < 0 {
		return hostPort, "", false
	}
	return hostPort[:i], hostPort[i+1:], true
}
