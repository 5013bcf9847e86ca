package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-logr/logr"

	"ringproxy/internal/membership"
)

// ReplicaHeader names the replica that served a proxied response.
const ReplicaHeader = "X-Ringproxy-Replica"

type replicaKey struct{}

type proxy struct {
	reverse *httputil.ReverseProxy
	logger  logr.Logger
}

func newProxy(logger logr.Logger) *proxy {
	p := &proxy{logger: logger.WithName("proxy")}
	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			rep := r.In.Context().Value(replicaKey{}).(*membership.Replica)
			r.SetURL(&url.URL{Scheme: "http", Host: rep.Endpoint.HTTPAddr()})
			r.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			rep := resp.Request.Context().Value(replicaKey{}).(*membership.Replica)
			resp.Header.Set(ReplicaHeader, rep.Hostname)
			return nil
		},
		ErrorHandler: p.handleError,
	}
	return p
}

// forward proxies r to rep, keeping the request path and query.
func (p *proxy) forward(w http.ResponseWriter, r *http.Request, rep *membership.Replica) {
	ctx := contextWithReplica(r.Context(), rep)
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	rep, _ := r.Context().Value(replicaKey{}).(*membership.Replica)
	hostname := ""
	if rep != nil {
		hostname = rep.Hostname
		w.Header().Set(ReplicaHeader, hostname)
	}
	p.logger.Error(err, "Failed to proxy request", "replica", hostname, "path", r.URL.Path)
	writeFailure(w, http.StatusBadGateway, "Replica failed to respond")
}
