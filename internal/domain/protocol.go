package domain

import (
	"fmt"
	"strings"
)

// Protocol is the proxy wire protocol. It doubles as the URL scheme used
// when dialing through the proxy.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

func ParseProtocol(raw string) (Protocol, error) {
	protocol := Protocol(strings.ToLower(strings.TrimSpace(raw)))
	if !protocol.IsValid() {
		return "", fmt.Errorf("unknown proxy protocol %q", raw)
	}
	return protocol, nil
}

func (p Protocol) IsValid() bool {
	switch p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5:
		return true
	}
	return false
}

func (p Protocol) IsSocks() bool {
	return p == ProtocolSOCKS4 || p == ProtocolSOCKS5
}

func (p Protocol) String() string {
	return string(p)
}
