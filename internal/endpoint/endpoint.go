package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the control port the robot serves its API on when the
// address omits an explicit port.
const DefaultPort = 8000

// ErrInvalid indicates the raw address could not be normalised into an
// endpoint. It is never fatal; callers disable the channels until the
// address is corrected.
var ErrInvalid = errors.New("endpoint: invalid address")

// Endpoint is the canonical base address of the controlled device:
// scheme, host and an always-explicit port.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}

// String renders the canonical origin (scheme://host:port).
func (e Endpoint) String() string {
	if e.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// URL returns the endpoint as a parsed base URL.
func (e Endpoint) URL() *url.URL {
	return &url.URL{
		Scheme: e.Scheme,
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
}

// Resolve normalises raw user input into a canonical endpoint.
//
// The input is trimmed; an empty input resolves to ErrInvalid. A missing
// scheme defaults to plain http, a missing port to DefaultPort. Resolving
// the String() of a valid endpoint yields the same endpoint back.
func Resolve(raw string) (Endpoint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Endpoint{}, fmt.Errorf("%w: empty input", ErrInvalid)
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host", ErrInvalid)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalid, p)
		}
	}

	return Endpoint{Scheme: scheme, Host: host, Port: port}, nil
}

// ResolveWithLocal applies the same-device preference rule on top of
// Resolve. localOrigin is the origin this console itself is reachable on
// (the dashboard being served from the robot it controls). An empty stored
// address adopts the local origin outright; a stored address that names the
// local origin's host on a different port is overridden by the local
// origin. Anything else resolves as usual.
func ResolveWithLocal(raw, localOrigin string) (Endpoint, error) {
	local, localErr := Resolve(localOrigin)

	if strings.TrimSpace(raw) == "" {
		if localErr != nil {
			return Endpoint{}, fmt.Errorf("%w: empty input", ErrInvalid)
		}
		return local, nil
	}

	ep, err := Resolve(raw)
	if err != nil {
		return Endpoint{}, err
	}

	if localErr == nil && strings.EqualFold(ep.Host, local.Host) && ep.Port != local.Port {
		return local, nil
	}
	return ep, nil
}
