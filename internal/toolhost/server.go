package toolhost

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport names how an MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig is one entry of the mcp.servers list.
type ServerConfig struct {
	Name      string    `yaml:"name"`
	Transport Transport `yaml:"transport"`

	// Command is split on whitespace and run as a subprocess (stdio only).
	Command string `yaml:"command"`
	// Env is appended to the parent environment of the subprocess.
	Env map[string]string `yaml:"env"`

	// URL is the endpoint for streamable-http.
	URL string `yaml:"url"`
	// Token, if set, is sent as a bearer token to URL.
	Token string `yaml:"token"`
}

// Validate reports every problem with c, joined.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			errs = append(errs, errors.New("command is required when transport is stdio"))
		}
	case TransportStreamableHTTP:
		if c.URL == "" {
			errs = append(errs, errors.New("url is required when transport is streamable-http"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport %q is invalid; valid values: %s, %s", c.Transport, TransportStdio, TransportStreamableHTTP))
	}
	return errors.Join(errs...)
}

// transport builds the MCP client transport for c. The stdio subprocess is
// not bound to any context; it lives until the session closes.
func (c ServerConfig) transport() (mcpsdk.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("toolhost: server %q: %w", c.Name, err)
	}
	if c.Transport == TransportStreamableHTTP {
		t := &mcpsdk.StreamableClientTransport{Endpoint: c.URL}
		if c.Token != "" {
			t.HTTPClient = &http.Client{Transport: bearer{token: c.Token, next: http.DefaultTransport}}
		}
		return t, nil
	}

	argv := strings.Fields(c.Command)
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// bearer sets a static Authorization header on a copy of each request.
type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(r)
}
