package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoSession is returned when a session id is required but missing.
var ErrNoSession = errors.New("session id is required")

// Address builds the session endpoint URL. The scheme mirrors the page
// security, the host is the dev host in dev mode or the page host otherwise.
func Address(cfg Config, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrNoSession
	}

	secure := false
	host := ""
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return "", fmt.Errorf("parse base URL: %w", err)
		}
		switch strings.ToLower(base.Scheme) {
		case "https", "wss":
			secure = true
		case "http", "ws", "":
		default:
			return "", fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
		}
		host = base.Host
	}
	if cfg.Dev && cfg.DevHost != "" {
		host = cfg.DevHost
	}
	if host == "" {
		return "", errors.New("no host to connect to")
	}

	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:  scheme,
		Host:    host,
		Path:    "/ws/" + sessionID,
		RawPath: "/ws/" + url.PathEscape(sessionID),
	}
	return u.String(), nil
}
