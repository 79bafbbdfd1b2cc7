package monitoring

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/exit-tools/rotord/pkg/errors"
)

// CheckSOCKS verifies that a SOCKS5 endpoint completes a connect request to
// target. It serves as a diagnostic when an HTTP probe fails, to tell a dead
// circuit router apart from a dead forwarding proxy in front of it.
func CheckSOCKS(socksAddr, target string, timeout time.Duration) (bool, string) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return false, fmt.Sprintf("SOCKS dialer setup failed: %v", err)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultChan := make(chan dialResult)

	// The SOCKS handshake has no deadline of its own, so run the dial in a
	// goroutine and bound it here. A late completion closes its own conn.
	go func() {
		conn, err := dialer.Dial("tcp", target)
		select {
		case resultChan <- dialResult{conn: conn, err: err}:
		default:
			if conn != nil {
				conn.Close()
			}
		}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			return false, fmt.Sprintf("SOCKS connect to %s failed: %v", target, result.err)
		}
		result.conn.Close()
		return true, fmt.Sprintf("SOCKS connect to %s succeeded", target)
	case <-time.After(timeout):
		return false, fmt.Sprintf("SOCKS connect to %s timed out after %v", target, timeout)
	}
}

// DialTargetFromURL derives the host:port a SOCKS connect should reach to
// mimic a probe of the given URL.
func DialTargetFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.NewValidationError("invalid probe URL: "+rawURL, err)
	}
	if parsed.Hostname() == "" {
		return "", errors.NewValidationError("probe URL has no host: "+rawURL, nil)
	}

	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}

	return net.JoinHostPort(parsed.Hostname(), port), nil
}
