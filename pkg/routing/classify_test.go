package routing

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.BackendHost = "api.servico.test"
	cfg.OriginHost = "app.servico.test"
	cfg.CDNHosts = []string{"cdn.libs.test", "fonts.static.test"}
	return cfg
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestClassify(t *testing.T) {
	cfg := testConfig()
	cdn := cfg.CDNSet()

	tests := []struct {
		name string
		url  string
		want Class
	}{
		{"backend host", "https://api.servico.test/servico_set", ClassRemoteAPI},
		{"backend host uppercase", "https://API.SERVICO.TEST/servico_set", ClassRemoteAPI},
		{"cdn host", "https://cdn.libs.test/lib/app.min.js", ClassCDN},
		{"cdn host mixed case", "https://CDN.Libs.Test/lib/app.min.js", ClassCDN},
		{"second cdn host", "https://fonts.static.test/roboto.woff2", ClassCDN},
		{"origin host", "http://app.servico.test/index.html", ClassSameOrigin},
		{"unknown host", "https://elsewhere.test/x", ClassUnhandled},
		{"relative url", "/index.html", ClassUnhandled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(cfg, cdn, mustParse(t, tt.url))
			if got != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	// A host appearing in more than one class resolves to the strongest:
	// remote API beats CDN beats same origin.
	cfg := testConfig()
	cfg.CDNHosts = append(cfg.CDNHosts, cfg.BackendHost, cfg.OriginHost)
	cdn := cfg.CDNSet()

	if got := Classify(cfg, cdn, mustParse(t, "https://api.servico.test/x")); got != ClassRemoteAPI {
		t.Fatalf("backend host listed as CDN classified %q, want %q", got, ClassRemoteAPI)
	}
	if got := Classify(cfg, cdn, mustParse(t, "http://app.servico.test/x")); got != ClassCDN {
		t.Fatalf("origin host listed as CDN classified %q, want %q", got, ClassCDN)
	}
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   bool
	}{
		{"sec-fetch-mode navigate", map[string]string{"Sec-Fetch-Mode": "navigate"}, true},
		{"sec-fetch-mode cors", map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}, false},
		{"accept html", map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"accept json", map[string]string{"Accept": "application/json"}, false},
		{"no headers", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/page", nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := IsNavigation(r); got != tt.want {
				t.Fatalf("IsNavigation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	sameOrigin := mustParse(t, "http://app.servico.test/page?tab=2")
	if got := cacheKey(ClassSameOrigin, sameOrigin); got != "/page?tab=2" {
		t.Fatalf("same-origin key = %q, want %q", got, "/page?tab=2")
	}

	cdn := mustParse(t, "https://cdn.libs.test/lib/app.min.js")
	if got := cacheKey(ClassCDN, cdn); got != "https://cdn.libs.test/lib/app.min.js" {
		t.Fatalf("cdn key = %q, want full URL", got)
	}
}
