// Package signature verifies OAuth 1.0a HMAC-SHA1 signatures on inbound
// webhook requests.
package signature

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // OAuth 1.0a mandates HMAC-SHA1
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	headerScheme   = "OAuth"
	paramSignature = "oauth_signature"
	paramRealm     = "realm"
)

// Request carries the parts of an HTTP request that take part in the signature.
type Request struct {
	Method        string
	URL           *url.URL
	Authorization string
	// PublicBaseURL replaces scheme://host[:port] of URL when the service runs
	// behind a proxy that rewrites the host.
	PublicBaseURL string
}

// Verifier checks request signatures against a consumer secret.
type Verifier struct {
	secret string
}

// NewVerifier returns a Verifier. An empty secret disables verification.
func NewVerifier(consumerSecret string) *Verifier {
	return &Verifier{secret: consumerSecret}
}

// Enabled reports whether a consumer secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify recomputes the signature of r and compares it in constant time.
// It returns nil without inspecting r when verification is disabled.
func (v *Verifier) Verify(r Request) error {
	if !v.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Authorization) == "" {
		return ErrMissingHeader
	}
	params, err := ParseHeader(r.Authorization)
	if err != nil {
		return err
	}
	got, ok := params[paramSignature]
	if !ok || got == "" {
		return ErrMissingSignature
	}
	if r.URL == nil {
		return fmt.Errorf("%w: request url is empty", ErrInvalidSignature)
	}
	base := BaseURL(r.URL, r.PublicBaseURL)
	want := Sign(v.secret, r.Method, base, r.URL.Query(), params)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseHeader parses an `OAuth k="v", ...` header into decoded parameters.
func ParseHeader(h string) (map[string]string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil, ErrMissingHeader
	}
	if len(h) < len(headerScheme) || !strings.EqualFold(h[:len(headerScheme)], headerScheme) {
		return nil, fmt.Errorf("%w: scheme is not OAuth", ErrMalformedHeader)
	}
	rest := strings.TrimSpace(h[len(headerScheme):])
	out := make(map[string]string)
	if rest == "" {
		return out, nil
	}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("%w: %q has no value", ErrMalformedHeader, part)
		}
		val = strings.TrimSpace(val)
		if len(val) < 2 || val[0] != '"' || val[len(val)-1] != '"' {
			return nil, fmt.Errorf("%w: %q is not quoted", ErrMalformedHeader, key)
		}
		k, err := url.PathUnescape(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
		}
		v, err := url.PathUnescape(val[1 : len(val)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
		}
		out[k] = v
	}
	return out, nil
}

// BaseURL returns the lowercase scheme://host/path form used in the base
// string. Default ports are dropped. publicBase, when set, replaces the
// scheme and authority of u.
func BaseURL(u *url.URL, publicBase string) string {
	scheme, host := u.Scheme, u.Host
	if publicBase != "" {
		if pb, err := url.Parse(strings.TrimRight(publicBase, "/")); err == nil && pb.Host != "" {
			scheme, host = pb.Scheme, pb.Host
		}
	}
	if scheme == "" {
		scheme = "https"
	}
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// BaseString builds the signature base string from the method, base URL,
// query parameters and OAuth header parameters. realm and oauth_signature
// are excluded.
func BaseString(method, baseURL string, query url.Values, oauth map[string]string) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query)+len(oauth))
	for k, vs := range query {
		for _, v := range vs {
			pairs = append(pairs, pair{Encode(k), Encode(v)})
		}
	}
	for k, v := range oauth {
		if k == paramSignature || k == paramRealm {
			continue
		}
		pairs = append(pairs, pair{Encode(k), Encode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var norm strings.Builder
	for i, p := range pairs {
		if i > 0 {
			norm.WriteByte('&')
		}
		norm.WriteString(p.k)
		norm.WriteByte('=')
		norm.WriteString(p.v)
	}
	return strings.ToUpper(method) + "&" + Encode(baseURL) + "&" + Encode(norm.String())
}

// Sign returns the base64 HMAC-SHA1 signature keyed with consumerSecret + "&".
func Sign(consumerSecret, method, baseURL string, query url.Values, oauth map[string]string) string {
	mac := hmac.New(sha1.New, []byte(consumerSecret+"&"))
	mac.Write([]byte(BaseString(method, baseURL, query, oauth)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Encode percent-encodes s per RFC 3986: only ALPHA, DIGIT and -._~ pass through.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func unreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
