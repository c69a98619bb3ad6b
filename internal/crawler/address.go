package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// defaultP2PPort is assumed when a peer address carries no port
const defaultP2PPort = "7100"

// ExtractHost splits a peer address or URL into host and port.
// Accepts "1.2.3.4:7100", "http://1.2.3.4:9000/x", "node.example.com" and "[::1]:7100".
func ExtractHost(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", fmt.Errorf("empty address")
	}

	// Handle scheme-less addresses
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	parsed, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid address %q: %w", addr, err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid address %q: no host", addr)
	}

	port := parsed.Port()
	if port == "" {
		port = defaultP2PPort
	}

	return strings.ToLower(host), port, nil
}

// QueryURL returns the admin base URL of the node behind addr
func QueryURL(addr string, adminPort int) (string, error) {
	host, _, err := ExtractHost(addr)
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(adminPort)), nil
}
