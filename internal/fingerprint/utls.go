package fingerprint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names the TLS ClientHello the page fetcher presents.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // crypto/tls as-is
	ProfileRandom  Profile = "random" // randomized uTLS hello
)

// ParseProfile maps a config value onto a Profile. Empty means chrome.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileChrome, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tls profile %q", s)
	}
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("unknown tls profile %q", p)
	}
}

// Transport returns an http.Transport presenting profile p. ProfileGo uses the
// standard TLS stack; every other profile dials through uTLS. proxyFunc, when
// set, becomes the transport's Proxy.
func Transport(p Profile, proxyFunc func(*http.Request) (*url.URL, error)) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyFunc != nil {
		transport.Proxy = proxyFunc
	}
	if p == ProfileGo {
		return transport, nil
	}

	id, err := helloID(p)
	if err != nil {
		return nil, err
	}

	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := transport.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := newUConn(rawConn, host, id)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

// newUConn builds a uTLS client that only offers http/1.1 over ALPN, since the
// transport cannot speak h2 on a custom-dialed conn.
func newUConn(conn net.Conn, host string, id utls.ClientHelloID) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		// randomized hellos have no static spec
		return utls.UClient(conn, cfg, id), nil
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply tls preset: %w", err)
	}
	return uConn, nil
}
