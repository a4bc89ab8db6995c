package main

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// newResourceProxy builds the protected resource's reverse proxy: it
// forwards a paid-for request to the upstream service named by
// X402_UPSTREAM_URL, stripping the headers that carried the payment
// negotiation so the upstream never needs to know x402 exists.
func newResourceProxy(upstreamURL string) (http.Handler, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}

	rp := httputil.NewSingleHostReverseProxy(target)

	base := rp.Director
	rp.Director = func(req *http.Request) {
		base(req)
		req.Header.Del("X-Forwarded-For")
		req.Header.Del("X-Forwarded-Host")
		req.Header.Del("X-Forwarded-Proto")
		req.Header.Del("X-Real-Ip")
		req.Header.Del("Forwarded")
		req.Header.Del("Via")
		req.Header.Del("Payment-Signature")
		req.Header.Del("X-Api-Key")
		req.Host = target.Host
	}

	rp.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		slog.Error("upstream resource error", "err", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	return rp, nil
}
