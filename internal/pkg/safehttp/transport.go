// Package safehttp builds outbound HTTP transports for provider traffic.
// Provider base URLs are administrator input, so the guarded transport
// refuses to dial private, loopback and link-local addresses.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrDeniedAddress is returned when a dial targets a guarded range.
var ErrDeniedAddress = errors.New("safehttp: address is not publicly routable")

// Denied reports whether ip falls in a range the guarded transport refuses.
func Denied(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// control runs after name resolution and before connect, so every address
// a hostname resolves to is checked.
func control(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("safehttp: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("safehttp: unparseable address %q", host)
	}
	if Denied(ip) {
		return fmt.Errorf("%w: %s", ErrDeniedAddress, ip)
	}
	return nil
}

// Transport returns a clone of http.DefaultTransport. With guard set, dials
// to denied addresses fail with ErrDeniedAddress; proxies are disabled so
// the check applies to the real destination.
func Transport(guard bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if !guard {
		return t
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   control,
	}
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}
