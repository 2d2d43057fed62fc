package signature

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const testSecret = "garmin-consumer-secret"

func oauthParams() map[string]string {
	return map[string]string{
		"oauth_consumer_key":     "consumer-key",
		"oauth_nonce":            "b4f1c2",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1709251200",
		"oauth_version":          "1.0",
	}
}

func authHeader(params map[string]string, sig string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, Encode(k), Encode(params[k])))
	}
	if sig != "" {
		parts = append(parts, fmt.Sprintf(`oauth_signature="%s"`, Encode(sig)))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

func signedRequest(rawURL string) Request {
	u, _ := url.Parse(rawURL)
	params := oauthParams()
	sig := Sign(testSecret, "POST", BaseURL(u, ""), u.Query(), params)
	return Request{Method: "POST", URL: u, Authorization: authHeader(params, sig)}
}

// flip swaps the base64 character at i for a different one.
func flip(sig string, i int) string {
	c := byte('A')
	if sig[i] == c {
		c = 'B'
	}
	return sig[:i] + string(c) + sig[i+1:]
}

func TestEncode(t *testing.T) {
	Convey("Given RFC 3986 percent-encoding", t, func() {
		Convey("Then unreserved characters pass through", func() {
			So(Encode("AZaz09-._~"), ShouldEqual, "AZaz09-._~")
		})
		Convey("Then reserved characters are upper-case hex encoded", func() {
			So(Encode("a b&c=d/e+f*"), ShouldEqual, "a%20b%26c%3Dd%2Fe%2Bf%2A")
		})
		Convey("Then multi-byte characters are encoded per byte", func() {
			So(Encode("é"), ShouldEqual, "%C3%A9")
		})
	})
}

func TestBaseString(t *testing.T) {
	Convey("Given the request from RFC 5849 section 3.4.1.1", t, func() {
		params := url.Values{
			"b5": {"=%3D"},
			"a3": {"a", "2 q"},
			"c@": {""},
			"a2": {"r b"},
			"c2": {""},
		}
		oauth := map[string]string{
			"realm":                  "Example",
			"oauth_consumer_key":     "9djdj82h48djs9d2",
			"oauth_token":            "kkk9d7dh3k39sjv7",
			"oauth_signature_method": "HMAC-SHA1",
			"oauth_timestamp":        "137131201",
			"oauth_nonce":            "7d8f3e4a",
			"oauth_signature":        "ignored",
		}

		base := BaseString("post", "http://example.com/request", params, oauth)

		Convey("Then the base string matches the published example", func() {
			want := "POST&http%3A%2F%2Fexample.com%2Frequest&a2%3Dr%2520b%26a3%3D2%2520q" +
				"%26a3%3Da%26b5%3D%253D%25253D%26c%2540%3D%26c2%3D%26oauth_consumer_key%3D9dj" +
				"dj82h48djs9d2%26oauth_nonce%3D7d8f3e4a%26oauth_signature_method%3DHMAC-SHA1" +
				"%26oauth_timestamp%3D137131201%26oauth_token%3Dkkk9d7dh3k39sjv7"
			So(base, ShouldEqual, want)
		})

		Convey("Then realm and oauth_signature are excluded", func() {
			So(base, ShouldNotContainSubstring, "realm")
			So(base, ShouldNotContainSubstring, "ignored")
		})
	})
}

func TestBaseURL(t *testing.T) {
	Convey("Given request URLs", t, func() {
		Convey("Then scheme and host are lowercased and default ports dropped", func() {
			u, _ := url.Parse("HTTP://Example.COM:80/r%20v/X?id=123")
			So(BaseURL(u, ""), ShouldEqual, "http://example.com/r%20v/X")
		})
		Convey("Then non-default ports are kept", func() {
			u, _ := url.Parse("https://example.com:8443/webhooks/garmin")
			So(BaseURL(u, ""), ShouldEqual, "https://example.com:8443/webhooks/garmin")
		})
		Convey("Then a public base URL replaces scheme and host", func() {
			u, _ := url.Parse("http://10.0.0.5:9080/webhooks/garmin")
			So(BaseURL(u, "https://api.example.com/"), ShouldEqual, "https://api.example.com/webhooks/garmin")
		})
		Convey("Then a request URL without scheme defaults to https", func() {
			u := &url.URL{Host: "example.com", Path: "/webhooks/garmin"}
			So(BaseURL(u, ""), ShouldEqual, "https://example.com/webhooks/garmin")
		})
	})
}

func TestParseHeader(t *testing.T) {
	Convey("Given authorization headers", t, func() {
		Convey("When the header is well formed", func() {
			params, err := ParseHeader(`OAuth realm="x", oauth_nonce="a%20b", oauth_signature="abc%3D"`)

			Convey("Then values are percent-decoded", func() {
				So(err, ShouldBeNil)
				So(params["oauth_nonce"], ShouldEqual, "a b")
				So(params["oauth_signature"], ShouldEqual, "abc=")
				So(params["realm"], ShouldEqual, "x")
			})
		})

		Convey("When the header is empty", func() {
			_, err := ParseHeader("  ")
			So(errors.Is(err, ErrMissingHeader), ShouldBeTrue)
		})

		Convey("When the scheme is not OAuth", func() {
			_, err := ParseHeader(`Bearer abc`)
			So(errors.Is(err, ErrMalformedHeader), ShouldBeTrue)
		})

		Convey("When a value is not quoted", func() {
			_, err := ParseHeader(`OAuth oauth_nonce=abc`)
			So(errors.Is(err, ErrMalformedHeader), ShouldBeTrue)
		})

		Convey("When a pair has no value", func() {
			_, err := ParseHeader(`OAuth oauth_nonce`)
			So(errors.Is(err, ErrMalformedHeader), ShouldBeTrue)
		})
	})
}

func TestVerify(t *testing.T) {
	Convey("Given a verifier with a consumer secret", t, func() {
		v := NewVerifier(testSecret)
		So(v.Enabled(), ShouldBeTrue)

		Convey("When the request is signed with the same secret", func() {
			r := signedRequest("https://example.com/webhooks/garmin?uploadId=42")

			Convey("Then verification succeeds", func() {
				So(v.Verify(r), ShouldBeNil)
			})
		})

		Convey("When the query string is tampered with", func() {
			r := signedRequest("https://example.com/webhooks/garmin?uploadId=42")
			r.URL.RawQuery = "uploadId=43"

			Convey("Then verification fails", func() {
				So(errors.Is(v.Verify(r), ErrInvalidSignature), ShouldBeTrue)
			})
		})

		Convey("When one character of a valid signature is changed", func() {
			u, _ := url.Parse("https://example.com/webhooks/garmin?uploadId=42")
			params := oauthParams()
			sig := Sign(testSecret, "POST", BaseURL(u, ""), u.Query(), params)
			So(v.Verify(Request{Method: "POST", URL: u, Authorization: authHeader(params, sig)}), ShouldBeNil)

			Convey("Then verification fails wherever the change is", func() {
				for _, i := range []int{0, len(sig) / 2, len(sig) - 2} {
					r := Request{Method: "POST", URL: u, Authorization: authHeader(params, flip(sig, i))}
					So(errors.Is(v.Verify(r), ErrInvalidSignature), ShouldBeTrue)
				}
			})
		})

		Convey("When the request is signed with another secret", func() {
			u, _ := url.Parse("https://example.com/webhooks/garmin")
			params := oauthParams()
			sig := Sign("other-secret", "POST", BaseURL(u, ""), u.Query(), params)
			r := Request{Method: "POST", URL: u, Authorization: authHeader(params, sig)}

			Convey("Then verification fails", func() {
				So(errors.Is(v.Verify(r), ErrInvalidSignature), ShouldBeTrue)
			})
		})

		Convey("When the signature is missing", func() {
			u, _ := url.Parse("https://example.com/webhooks/garmin")
			r := Request{Method: "POST", URL: u, Authorization: authHeader(oauthParams(), "")}
			So(errors.Is(v.Verify(r), ErrMissingSignature), ShouldBeTrue)
		})

		Convey("When the header is missing", func() {
			u, _ := url.Parse("https://example.com/webhooks/garmin")
			So(errors.Is(v.Verify(Request{Method: "POST", URL: u}), ErrMissingHeader), ShouldBeTrue)
		})

		Convey("When the service sits behind a proxy", func() {
			public, _ := url.Parse("https://api.example.com/webhooks/garmin")
			params := oauthParams()
			sig := Sign(testSecret, "POST", BaseURL(public, ""), nil, params)
			internal, _ := url.Parse("http://10.0.0.5:9080/webhooks/garmin")
			r := Request{Method: "POST", URL: internal, Authorization: authHeader(params, sig)}

			Convey("Then verification needs the public base URL", func() {
				So(errors.Is(v.Verify(r), ErrInvalidSignature), ShouldBeTrue)
				r.PublicBaseURL = "https://api.example.com"
				So(v.Verify(r), ShouldBeNil)
			})
		})
	})

	Convey("Given a verifier without a secret", t, func() {
		v := NewVerifier("")

		Convey("Then every request passes", func() {
			So(v.Enabled(), ShouldBeFalse)
			So(v.Verify(Request{Method: "POST"}), ShouldBeNil)
		})
	})
}
