// Package routing decides, per request, between the network and the response
// bucket. Requests are classified by host into mutually exclusive classes,
// each served by its own fetch strategy.
package routing

import (
	"net/http"
	"net/url"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// Class is the host classification of a request.
type Class string

const (
	// ClassRemoteAPI matches the backend host. Always network, never cached.
	ClassRemoteAPI Class = "remote-api"

	// ClassCDN matches the third-party allow-list. Cache-first; misses are
	// fetched from the network and returned without being written back.
	ClassCDN Class = "cdn"

	// ClassSameOrigin matches the application origin. Network-first with
	// cache refresh and offline fallbacks.
	ClassSameOrigin Class = "same-origin"

	// ClassUnhandled matches everything else. The request passes through
	// untouched.
	ClassUnhandled Class = "unhandled"
)

// Classify returns the host class of u. Precedence is fixed: the backend
// host wins over the allow-list, which wins over the origin, so a host
// accidentally present in two sets is still served by exactly one strategy.
func Classify(cfg config.Config, cdn mapset.Set[string], u *url.URL) Class {
	host := u.Host
	switch {
	case strings.EqualFold(host, cfg.BackendHost):
		return ClassRemoteAPI
	case cdn.Contains(strings.ToLower(host)):
		return ClassCDN
	case strings.EqualFold(host, cfg.OriginHost):
		return ClassSameOrigin
	default:
		return ClassUnhandled
	}
}

// IsNavigation reports whether the request is a document navigation. The
// Sec-Fetch-Mode header decides when present; otherwise an Accept header
// asking for HTML counts as navigation.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// cacheKey returns the bucket key for a classified request URL:
// origin-relative for same-origin requests so install-time entries match,
// the full URL for cross-origin ones.
func cacheKey(class Class, u *url.URL) string {
	if class == ClassSameOrigin {
		return u.RequestURI()
	}
	return u.String()
}
