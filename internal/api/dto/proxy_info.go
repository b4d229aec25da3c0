package dto

import (
	"net"
	"net/url"
	"strconv"

	"proxypool/internal/domain"
)

// ProxyInfo is what a lease hands to the caller. It carries connection
// details only, internal health state stays server side.
type ProxyInfo struct {
	Id       string `json:"id"`
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func ProxyInfoFrom(proxy *domain.Proxy) ProxyInfo {
	return ProxyInfo{
		Id:       proxy.ID,
		Host:     proxy.Host,
		Port:     proxy.Port,
		Protocol: string(proxy.Protocol),
		Username: proxy.Username,
		Password: proxy.Password,
	}
}

func (info ProxyInfo) Endpoint() string {
	return net.JoinHostPort(info.Host, strconv.Itoa(int(info.Port)))
}

// URL renders the proxy as scheme://[user:pass@]host:port, the form
// accepted by http.ProxyURL and the socks dialers.
func (info ProxyInfo) URL() string {
	u := url.URL{
		Scheme: info.Protocol,
		Host:   info.Endpoint(),
	}
	if info.Username != "" {
		u.User = url.UserPassword(info.Username, info.Password)
	}
	return u.String()
}
