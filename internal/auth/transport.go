package auth

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/icholy/digest"
	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// scopedTransport sends in-scope requests through the auth scheme
type scopedTransport struct {
	scope  Scope
	auth   http.RoundTripper
	direct http.RoundTripper
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.scope.Matches(req.URL) {
		return t.auth.RoundTrip(req)
	}
	return t.direct.RoundTrip(req)
}

// basicTransport answers a WWW-Authenticate: Basic challenge once
type basicTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !offers(resp, "Basic") {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil {
		// body cannot be replayed, hand back the challenge
		return resp, nil
	}
	drain(resp)

	retry.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(retry)
}

// offers reports whether any challenge on resp uses scheme
func offers(resp *http.Response, scheme string) bool {
	for _, challenge := range resp.Header.Values("WWW-Authenticate") {
		name, _, _ := strings.Cut(strings.TrimSpace(challenge), " ")
		if strings.EqualFold(name, scheme) {
			return true
		}
	}
	return false
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func newDigestTransport(username, password string, base http.RoundTripper) http.RoundTripper {
	return &digest.Transport{
		Username:  username,
		Password:  password,
		Transport: base,
	}
}

// ntlmTransport hands the credentials to the NTLM negotiator on a copy of the request
type ntlmTransport struct {
	username   string
	password   string
	negotiator ntlmssp.Negotiator
}

func newNTLMTransport(username, domain, password string, base http.RoundTripper) http.RoundTripper {
	if domain != "" {
		username = domain + `\` + username
	}
	return &ntlmTransport{
		username:   username,
		password:   password,
		negotiator: ntlmssp.Negotiator{RoundTripper: base},
	}
}

func (t *ntlmTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.negotiator.RoundTrip(r)
}

func kerberosLogin(c Kerberos) (*client.Client, error) {
	path := krb5ConfPath(c)
	if path == "" {
		return nil, ErrKerberosUnavailable
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKerberosUnavailable, err)
	}

	user, realm, _ := strings.Cut(c.Principal, "@")
	if realm == "" {
		realm = cfg.LibDefaults.DefaultRealm
	}

	cl := client.NewWithPassword(user, realm, c.Password, cfg, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos login failed for %s: %w", c.Principal, err)
	}
	return cl, nil
}

// kerberosTransport attaches a SPNEGO token to every request
type kerberosTransport struct {
	client *client.Client
	spn    string
	base   http.RoundTripper
}

func (t *kerberosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if err := spnego.SetSPNEGOHeader(t.client, r, t.spn); err != nil {
		return nil, fmt.Errorf("failed to create SPNEGO token: %w", err)
	}
	return t.base.RoundTrip(r)
}
