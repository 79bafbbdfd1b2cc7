package monitoring

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ProxyProbeConfig describes one liveness probe: fetch URL through the HTTP
// proxy at ProxyAddr within Timeout.
type ProxyProbeConfig struct {
	URL       string        `yaml:"url"`
	ProxyAddr string        `yaml:"proxy_addr"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CheckHTTPProxy performs a single GET through the proxy and reports the
// outcome with a human-readable detail. Every failure mode, including
// timeouts and connection errors, comes back as a false result rather than
// an error.
func CheckHTTPProxy(config ProxyProbeConfig) (bool, string) {
	proxyURL, err := url.Parse("http://" + config.ProxyAddr)
	if err != nil {
		return false, fmt.Sprintf("Invalid proxy address %q: %v", config.ProxyAddr, err)
	}

	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		// The first response decides; redirects are not followed.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(config.URL)
	if err != nil {
		return false, fmt.Sprintf("Probe request failed: %v", err)
	}
	defer resp.Body.Close()

	// Only a clean 200 counts as working.
	if resp.StatusCode == http.StatusOK {
		return true, fmt.Sprintf("Probe passed: %s", resp.Status)
	}

	return false, fmt.Sprintf("Probe failed: %s", resp.Status)
}
