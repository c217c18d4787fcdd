// Package types defines core domain types for the spice-xpi controller.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyProtocol is the allowed proxy protocol.
type ProxyProtocol string

const (
	ProxyProtocolHTTP  ProxyProtocol = "http"
	ProxyProtocolHTTPS ProxyProtocol = "https"
)

// ProxyEndpoint is the proxy the remote client tunnels its session through.
// It reaches the client as the SPICE_PROXY environment variable.
type ProxyEndpoint struct {
	// Protocol is the proxy protocol.
	Protocol ProxyProtocol `json:"protocol" yaml:"protocol" msgpack:"protocol"`
	// Host is the proxy host.
	Host string `json:"host" yaml:"host" msgpack:"host"`
	// Port is the proxy port (1-65535).
	Port int `json:"port" yaml:"port" msgpack:"port"`
	// Username is the optional username for authentication.
	Username *string `json:"username,omitempty" yaml:"username,omitempty" msgpack:"username,omitempty"`
	// Password is the optional password for authentication.
	Password *string `json:"password,omitempty" yaml:"password,omitempty" msgpack:"password,omitempty"`
}

// Validate validates a proxy endpoint.
func (p *ProxyEndpoint) Validate() error {
	switch p.Protocol {
	case ProxyProtocolHTTP, ProxyProtocolHTTPS:
		// valid
	default:
		return fmt.Errorf("invalid protocol %q: must be http or https", p.Protocol)
	}

	if p.Host == "" {
		return fmt.Errorf("proxy host is required")
	}

	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}

	// Auth pair validation
	hasUsername := p.Username != nil && *p.Username != ""
	hasPassword := p.Password != nil && *p.Password != ""
	if hasUsername != hasPassword {
		return fmt.Errorf("username and password must be provided together")
	}

	return nil
}

// URL renders the endpoint in the form the client expects in SPICE_PROXY:
// protocol://[user:pass@]host:port.
func (p *ProxyEndpoint) URL() string {
	u := url.URL{
		Scheme: string(p.Protocol),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != nil && *p.Username != "" {
		if p.Password != nil {
			u.User = url.UserPassword(*p.Username, *p.Password)
		} else {
			u.User = url.User(*p.Username)
		}
	}
	return u.String()
}

// Redact returns a copy of the endpoint without the password.
func (p *ProxyEndpoint) Redact() ProxyEndpointRedacted {
	return ProxyEndpointRedacted{
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
	}
}

// ProxyEndpointRedacted is a proxy endpoint without password.
// Used in session records and rendered output.
type ProxyEndpointRedacted struct {
	Protocol ProxyProtocol `json:"protocol" yaml:"protocol" msgpack:"protocol"`
	Host     string        `json:"host" yaml:"host" msgpack:"host"`
	Port     int           `json:"port" yaml:"port" msgpack:"port"`
	Username *string       `json:"username,omitempty" yaml:"username,omitempty" msgpack:"username,omitempty"`
}

// ParseProxyURL parses protocol://[user:pass@]host:port into an endpoint
// and validates it.
func ParseProxyURL(raw string) (*ProxyEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy port %q", portStr)
	}

	p := &ProxyEndpoint{
		Protocol: ProxyProtocol(u.Scheme),
		Host:     host,
		Port:     port,
	}
	if u.User != nil {
		username := u.User.Username()
		p.Username = &username
		if password, ok := u.User.Password(); ok {
			p.Password = &password
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
