package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenRequestTimeout bounds the client credentials token exchange
const TokenRequestTimeout = 30 * time.Second

var (
	ErrUnsupportedMethod   = errors.New("unsupported auth method")
	ErrKerberosUnavailable = errors.New("kerberos is not available: no krb5 configuration")
)

// Method is the enumerated name of an auth scheme
type Method string

const (
	MethodBasic       Method = "BASIC"
	MethodBasicHeader Method = "BASIC_HEADER"
	MethodDigest      Method = "DIGEST"
	MethodNTLM        Method = "NTLM"
	MethodKerberos    Method = "KERBEROS"
)

// Config is one of Basic, BasicHeader, Digest, NTLM, Kerberos or ClientCredentials
type Config interface {
	Method() Method
	sealed()
}

// Basic answers a Basic challenge from the target origin
type Basic struct {
	Username string
	Password string
}

// BasicHeader sends a precomputed Authorization header without negotiation
type BasicHeader struct {
	Username string
	Password string
}

// Digest performs the Digest challenge/response against the target origin
type Digest struct {
	Username string
	Password string
}

// NTLM performs the NTLM handshake. Domain may be empty.
type NTLM struct {
	Username string
	Domain   string
	Password string
}

// Kerberos logs into the KDC and attaches SPNEGO tokens. Experimental.
type Kerberos struct {
	// Principal is user or user@REALM
	Principal string
	Password  string

	// Krb5ConfPath falls back to $KRB5_CONFIG
	Krb5ConfPath string

	// SPN defaults to HTTP/<host>
	SPN string
}

// ClientCredentials fetches an OAuth2 token and sends it as a bearer header
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (Basic) Method() Method             { return MethodBasic }
func (BasicHeader) Method() Method       { return MethodBasicHeader }
func (Digest) Method() Method            { return MethodDigest }
func (NTLM) Method() Method              { return MethodNTLM }
func (Kerberos) Method() Method          { return MethodKerberos }
func (ClientCredentials) Method() Method { return "CLIENT_CREDENTIALS" }

func (Basic) sealed()             {}
func (BasicHeader) sealed()       {}
func (Digest) sealed()            {}
func (NTLM) sealed()              {}
func (Kerberos) sealed()          {}
func (ClientCredentials) sealed() {}

// FromMethod maps an enumerated method name to its config.
// NTLM usernames of the form user@domain are split.
func FromMethod(method, username, password string) (Config, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(method))) {
	case MethodBasic:
		return Basic{Username: username, Password: password}, nil
	case MethodBasicHeader:
		return BasicHeader{Username: username, Password: password}, nil
	case MethodDigest:
		return Digest{Username: username, Password: password}, nil
	case MethodNTLM:
		user, domain, _ := strings.Cut(username, "@")
		return NTLM{Username: user, Domain: domain, Password: password}, nil
	case MethodKerberos:
		return Kerberos{Principal: username, Password: password}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Scope is the origin credentials are valid for
type Scope struct {
	Scheme string
	Host   string
	Port   string
}

// ScopeOf returns the origin of u with the default port made explicit
func ScopeOf(u *url.URL) Scope {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return Scope{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Hostname()), Port: port}
}

// Matches reports whether u belongs to the scope
func (s Scope) Matches(u *url.URL) bool {
	return u != nil && ScopeOf(u) == s
}

// Credentials are registered for a scope and used by a scheme transport
type Credentials struct {
	Scope    Scope
	Username string
	Domain   string
	Password string
}

// Prepared is the wire artifact for one request: either a literal header or
// credentials plus the schemes that answer challenges with them.
type Prepared struct {
	Header      http.Header
	Credentials *Credentials
	Schemes     []string

	wrap func(base http.RoundTripper) http.RoundTripper
}

// Apply copies the literal header onto req
func (p *Prepared) Apply(req *http.Request) {
	if p == nil {
		return
	}
	for name, values := range p.Header {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}

// Wrap installs the scheme registry on base. Requests outside the
// credential scope bypass it.
func (p *Prepared) Wrap(base http.RoundTripper) http.RoundTripper {
	if p == nil || p.wrap == nil || p.Credentials == nil {
		return base
	}
	return &scopedTransport{
		scope:  p.Credentials.Scope,
		auth:   p.wrap(base),
		direct: base,
	}
}

// Prepare computes what the transport needs to authenticate against target
func Prepare(ctx context.Context, cfg Config, target *url.URL) (*Prepared, error) {
	if cfg == nil {
		return &Prepared{}, nil
	}
	scope := ScopeOf(target)

	switch c := cfg.(type) {
	case Basic:
		return &Prepared{
			Credentials: &Credentials{Scope: scope, Username: c.Username, Password: c.Password},
			Schemes:     []string{"Basic"},
			wrap: func(base http.RoundTripper) http.RoundTripper {
				return &basicTransport{username: c.Username, password: c.Password, base: base}
			},
		}, nil

	case BasicHeader:
		h := http.Header{}
		h.Set("Authorization", BasicHeaderValue(c.Username, c.Password))
		return &Prepared{Header: h}, nil

	case Digest:
		return &Prepared{
			Credentials: &Credentials{Scope: scope, Username: c.Username, Password: c.Password},
			Schemes:     []string{"Digest"},
			wrap: func(base http.RoundTripper) http.RoundTripper {
				return newDigestTransport(c.Username, c.Password, base)
			},
		}, nil

	case NTLM:
		return &Prepared{
			Credentials: &Credentials{Scope: scope, Username: c.Username, Domain: c.Domain, Password: c.Password},
			Schemes:     []string{"NTLM", "Negotiate"},
			wrap: func(base http.RoundTripper) http.RoundTripper {
				return newNTLMTransport(c.Username, c.Domain, c.Password, base)
			},
		}, nil

	case Kerberos:
		client, err := kerberosLogin(c)
		if err != nil {
			return nil, err
		}
		spn := c.SPN
		if spn == "" {
			spn = "HTTP/" + scope.Host
		}
		return &Prepared{
			Credentials: &Credentials{Scope: scope, Username: c.Principal},
			Schemes:     []string{"Negotiate", "Kerberos"},
			wrap: func(base http.RoundTripper) http.RoundTripper {
				return &kerberosTransport{client: client, spn: spn, base: base}
			},
		}, nil

	case ClientCredentials:
		token, err := fetchToken(ctx, c)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		h.Set("Authorization", token.Type()+" "+token.AccessToken)
		return &Prepared{Header: h}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMethod, cfg)
	}
}

// BasicHeaderValue returns "Basic base64(user:pass)"
func BasicHeaderValue(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func fetchToken(ctx context.Context, c ClientCredentials) (*oauth2.Token, error) {
	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}

	ctx, cancel := context.WithTimeout(ctx, TokenRequestTimeout)
	defer cancel()

	token, err := cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client credentials token: %w", err)
	}
	return token, nil
}

func krb5ConfPath(c Kerberos) string {
	if c.Krb5ConfPath != "" {
		return c.Krb5ConfPath
	}
	return os.Getenv("KRB5_CONFIG")
}
