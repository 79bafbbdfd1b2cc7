package monitoring

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socksFixture answers the SOCKS5 no-auth handshake and grants every
// connect request. It is just enough protocol for the client side to
// consider the connect successful.
func socksFixture(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 256)

				// Greeting: version, method count, methods.
				if _, err := conn.Read(buf); err != nil {
					return
				}
				if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
					return
				}

				// Connect request; grant it with a zero bound address.
				if _, err := conn.Read(buf); err != nil {
					return
				}
				conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

				// Hold the conn until the client hangs up.
				conn.Read(buf)
			}(conn)
		}
	}()

	return listener.Addr().String()
}

func TestCheckSOCKS_Success(t *testing.T) {
	socksAddr := socksFixture(t)

	ok, detail := CheckSOCKS(socksAddr, "origin.test:80", 2*time.Second)

	assert.True(t, ok)
	assert.Contains(t, detail, "succeeded")
}

func TestCheckSOCKS_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	socksAddr := listener.Addr().String()
	listener.Close()

	ok, detail := CheckSOCKS(socksAddr, "origin.test:80", time.Second)

	assert.False(t, ok)
	assert.Contains(t, detail, "failed")
}

func TestCheckSOCKS_HandshakeTimeout(t *testing.T) {
	// Accepts the TCP connection but never speaks SOCKS.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { conn.Close() })
	}()

	start := time.Now()
	ok, detail := CheckSOCKS(listener.Addr().String(), "origin.test:80", 100*time.Millisecond)

	assert.False(t, ok)
	assert.Contains(t, detail, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialTargetFromURL(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected string
		wantErr  bool
	}{
		{name: "http_default_port", url: "http://icanhazip.com", expected: "icanhazip.com:80"},
		{name: "https_default_port", url: "https://icanhazip.com", expected: "icanhazip.com:443"},
		{name: "explicit_port", url: "http://origin.test:8080/ip", expected: "origin.test:8080"},
		{name: "no_host", url: "not-a-url", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := DialTargetFromURL(tc.url)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, target)
		})
	}
}
