package routing

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// hopByHopHeaders are connection-level headers that must not be forwarded
// by a proxy in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler serves proxied traffic through a routing transport.
//
// Requests in origin-form ("GET /index.html") are rewritten to the
// configured application origin; requests in absolute-form
// ("GET https://cdn.example.com/lib.js") are forwarded to the host they
// name. Either way the transport decides how the bucket participates.
type Handler struct {
	cfg       config.Config
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewHandler creates a proxy handler over the given transport, normally a
// *Router.
func NewHandler(cfg config.Config, transport http.RoundTripper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, transport: transport, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Close = false
	if !out.URL.IsAbs() {
		out.URL.Scheme = h.cfg.OriginScheme
		out.URL.Host = h.cfg.OriginHost
		out.Host = ""
	}
	removeHopByHop(out.Header)

	resp, err := h.transport.RoundTrip(out)
	if err != nil {
		h.logger.Error("proxy round trip failed",
			"method", r.Method, "url", out.URL.String(), "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopByHop(resp.Header)
	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("proxy response copy aborted",
			"url", out.URL.String(), "error", err)
	}
}

func removeHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

var _ http.Handler = (*Handler)(nil)
