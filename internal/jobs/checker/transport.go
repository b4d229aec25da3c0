package checker

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"

	"proxypool/internal/domain"
)

// CreateTransport builds a one-shot transport that routes through the given
// proxy. Keep-alives stay off so a probe never reuses a connection and
// always measures a full handshake.
func CreateTransport(target *domain.Proxy, timeout time.Duration) (*http.Transport, error) {
	transport := &http.Transport{
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch target.Protocol {
	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   target.Endpoint(),
		}
		if target.HasAuth() {
			proxyURL.User = url.UserPassword(target.Username, target.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 0,
		}).DialContext

	case domain.ProtocolSOCKS5:
		var auth *xproxy.Auth
		if target.HasAuth() {
			auth = &xproxy.Auth{User: target.Username, Password: target.Password}
		}
		socksDialer, err := xproxy.SOCKS5("tcp", target.Endpoint(), auth, &net.Dialer{
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socksDialer.Dial(network, addr)
		}

	default:
		// SOCKS4 has no context-aware dialer in x/net, the h12.io one
		// covers it.
		dial := socks.Dial(target.URL().String() + "?timeout=" + timeout.String())
		transport.Dial = dial
	}

	return transport, nil
}
