package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrMediaSourceBlocked is returned when a media URL points at a host the
// server must not reach.
var ErrMediaSourceBlocked = errors.New("media source not allowed")

const maxMediaRedirects = 5

// carrier-grade NAT space, not covered by netip.Addr.IsPrivate
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// mediaGuard limits where user-supplied media URLs may be fetched from.
// Addresses are checked after resolution, on every dial, so redirects and
// rebinding resolve to the same rules.
type mediaGuard struct {
	hosts        []string
	allowPrivate bool
}

func newMediaGuard(hosts []string, allowPrivate bool) *mediaGuard {
	g := &mediaGuard{allowPrivate: allowPrivate}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			g.hosts = append(g.hosts, h)
		}
	}
	return g
}

// checkURL applies the host allow-list. An empty list allows any public host.
func (g *mediaGuard) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrMediaSourceBlocked, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrMediaSourceBlocked)
	}
	if len(g.hosts) == 0 {
		return nil
	}
	for _, allowed := range g.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrMediaSourceBlocked, host)
}

// control runs on the resolved address right before connecting
func (g *mediaGuard) control(_, address string, _ syscall.RawConn) error {
	if g.allowPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaSourceBlocked, err)
	}
	if !publicAddr(ap.Addr()) {
		return fmt.Errorf("%w: address %s", ErrMediaSourceBlocked, ap.Addr())
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

// httpClient builds the client used for media downloads
func (g *mediaGuard) httpClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.control,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxMediaRedirects {
				return fmt.Errorf("stopped after %d redirects", maxMediaRedirects)
			}
			return g.checkURL(req.URL)
		},
	}
}
