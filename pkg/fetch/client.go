package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/parse"
	"webspider/pkg/utils"
)

// MaxRedirects is the number of redirect hops followed before a fetch fails with utils.ErrRedirectLoop
const MaxRedirects = 5

// ScopeFunc reports whether a URL may be requested during the current run
type ScopeFunc func(u *url.URL) bool

// NewTransport creates the shared HTTP transport based on the provided configuration.
// One transport is kept for the life of the process so connections are reused across runs.
func NewTransport(cfg config.HTTPClientConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment, // Use system proxy settings
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}
	return transport
}

// NewClient creates a per-run HTTP client over the shared transport
// Redirects are followed up to MaxRedirects hops; a hop back to a URL already in the chain fails with ErrRedirectLoop,
// and a hop leaving the run's scope fails with ErrScopeViolation before the target host is contacted
func NewClient(transport http.RoundTripper, inScope ScopeFunc, log *logrus.Entry) *http.Client {
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return fmt.Errorf("%w: stopped after %d redirects", utils.ErrRedirectLoop, MaxRedirects)
			}
			target := parse.NormalizeURL(req.URL)
			for _, prev := range via {
				if parse.NormalizeURL(prev.URL) == target {
					return fmt.Errorf("%w: %s revisited", utils.ErrRedirectLoop, target)
				}
			}
			if inScope != nil && !inScope(req.URL) {
				return fmt.Errorf("%w: redirect to %s", utils.ErrScopeViolation, req.URL.Host)
			}
			log.WithFields(logrus.Fields{"from": via[len(via)-1].URL.String(), "to": req.URL.String(), "hop": len(via)}).Debug("Following redirect")
			return nil
		},
	}
}
