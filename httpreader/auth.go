package httpreader

import (
	"crypto/md5"  //nolint:gosec // MD5 is a normative Digest algorithm option, not used for security here
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Authenticator attaches headers to an outgoing request. Implementations are
// immutable and safe for concurrent use across requests (spec.md §4.4).
type Authenticator interface {
	Apply(req *http.Request) error
}

// ChallengeAuthenticator is an Authenticator that also reacts to a 401
// challenge response, such as HTTP Digest's nonce negotiation.
type ChallengeAuthenticator interface {
	Authenticator
	// HandleChallenge inspects a 401 response and reports whether the
	// caller should retry the request with Apply called again.
	HandleChallenge(resp *http.Response) (retry bool, err error)
}

// BasicAuth implements HTTP Basic authentication.
type BasicAuth struct {
	Username, Password string
}

func (a BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// BearerAuth implements bearer-token authentication.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// APIKeyAuth attaches an API key under a custom header name.
type APIKeyAuth struct {
	HeaderName string
	Key        string
}

func (a APIKeyAuth) Apply(req *http.Request) error {
	req.Header.Set(a.HeaderName, a.Key)
	return nil
}

// CustomHeaderAuth attaches an arbitrary fixed set of headers.
type CustomHeaderAuth struct {
	Headers map[string]string
}

func (a CustomHeaderAuth) Apply(req *http.Request) error {
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// digestState is the Digest authenticator's state machine: Idle -> (401
// with WWW-Authenticate: Digest) -> Challenged -> Authorized. A stale=true
// 401 re-enters Challenged; any other 401 is fatal for that request
// (spec.md §4.4).
type digestState int

const (
	digestIdle digestState = iota
	digestChallenged
	digestAuthorized
)

// DigestAuth implements RFC 7616 HTTP Digest authentication, supporting the
// MD5 and SHA-256 algorithms. The nonce-count is per authenticator instance
// and monotonic under concurrent use.
type DigestAuth struct {
	Username, Password string
	// Algorithm is "MD5" or "SHA-256". Defaults to "MD5" if empty.
	Algorithm string

	mu       sync.Mutex
	state    digestState
	realm    string
	nonce    string
	opaque   string
	qop      string
	nonceCnt atomic.Uint64
}

var _ Authenticator = (*DigestAuth)(nil)
var _ ChallengeAuthenticator = (*DigestAuth)(nil)

// Apply attaches an Authorization: Digest header once a challenge has been
// received; before the first challenge it is a no-op, so the first request
// is expected to receive a 401 that HandleChallenge will process.
func (a *DigestAuth) Apply(req *http.Request) error {
	a.mu.Lock()
	state := a.state
	realm, nonce, opaque, qop := a.realm, a.nonce, a.opaque, a.qop
	if state == digestChallenged {
		a.state = digestAuthorized
	}
	a.mu.Unlock()

	if state == digestIdle {
		return nil
	}

	cnonce, err := randomHex(16)
	if err != nil {
		return err
	}
	nc := fmt.Sprintf("%08x", a.nonceCnt.Add(1))

	ha1 := a.hash(a.Username + ":" + realm + ":" + a.Password)
	ha2 := a.hash(req.Method + ":" + req.URL.RequestURI())

	var response string
	if qop != "" {
		response = a.hash(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	} else {
		response = a.hash(strings.Join([]string{ha1, nonce, ha2}, ":"))
	}

	header := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		a.Username, realm, nonce, req.URL.RequestURI(), response, a.algorithm(),
	)
	if opaque != "" {
		header += fmt.Sprintf(`, opaque="%s"`, opaque)
	}
	if qop != "" {
		header += fmt.Sprintf(`, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	}
	req.Header.Set("Authorization", header)
	return nil
}

// HandleChallenge parses a WWW-Authenticate: Digest header from a 401
// response and advances the state machine to Challenged. Any 401 that does
// not carry a Digest challenge is fatal for that request.
func (a *DigestAuth) HandleChallenge(resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusUnauthorized {
		return false, nil
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(strings.TrimSpace(challenge), "Digest") {
		return false, fmt.Errorf("digest auth: unexpected 401 without Digest challenge")
	}

	params := parseDigestParams(challenge)

	a.mu.Lock()
	wasAuthorized := a.state == digestAuthorized
	stale := strings.EqualFold(params["stale"], "true")
	a.realm = params["realm"]
	a.nonce = params["nonce"]
	a.opaque = params["opaque"]
	a.qop = firstQop(params["qop"])
	if a.Algorithm != "" {
		// keep configured algorithm
	} else if alg := params["algorithm"]; alg != "" {
		a.Algorithm = alg
	}
	a.state = digestChallenged
	a.mu.Unlock()

	if wasAuthorized && !stale {
		// We were already authorized and got a 401 that isn't a stale-nonce
		// retry: something else is wrong (e.g. bad credentials).
		return false, fmt.Errorf("digest auth: authorization rejected")
	}
	return true, nil
}

func (a *DigestAuth) algorithm() string {
	if a.Algorithm == "" {
		return "MD5"
	}
	return a.Algorithm
}

func (a *DigestAuth) hash(s string) string {
	if strings.EqualFold(a.algorithm(), "SHA-256") {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum([]byte(s)) //nolint:gosec // RFC 7616 MD5 variant
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseDigestParams(header string) map[string]string {
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Digest"))
	params := map[string]string{}
	for _, part := range splitDigestParts(header) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = val
	}
	return params
}

// splitDigestParts splits a comma-separated Digest parameter list while
// respecting commas embedded inside quoted values.
func splitDigestParts(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func firstQop(qop string) string {
	if qop == "" {
		return ""
	}
	parts := strings.Split(qop, ",")
	return strings.TrimSpace(parts[0])
}
