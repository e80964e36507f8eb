package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

const (
	SchemeSOCKS5      = "socks5"
	SchemeShadowsocks = "ss"
)

var ErrInvalidProxyURL = errors.New("invalid proxy url")

// ProxyURL describes one proxy endpoint in the form understood by the
// outline-sdk configurl dialers.
type ProxyURL struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	// Method is the shadowsocks cipher, unused for socks5
	Method string
	// Prefix is the shadowsocks salt prefix, unused for socks5
	Prefix string
}

// Build converts the ProxyURL into a transport config string.
func (c *ProxyURL) Build() (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidProxyURL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidProxyURL, c.Port)
	}

	scheme := c.Scheme
	if scheme == "" {
		scheme = SchemeSOCKS5
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}

	switch scheme {
	case SchemeSOCKS5:
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
	case SchemeShadowsocks:
		if c.Method == "" || c.Password == "" {
			return "", fmt.Errorf("%w: shadowsocks requires method and password", ErrInvalidProxyURL)
		}
		// Create userinfo by base64 encoding "method:password"
		userInfo := base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", c.Method, c.Password)))
		u.User = url.User(userInfo)
		if c.Prefix != "" {
			q := url.Values{}
			q.Add("prefix", c.Prefix)
			u.RawQuery = q.Encode()
		}
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxyURL, scheme)
	}

	return u.String(), nil
}
