package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"proxypool/internal/security"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultMaxConcurrent bounds in-flight requests per proxy unless the caller
// configures a different limit at add time.
const DefaultMaxConcurrent = 10

// Proxy is a fleet member: a configured relay endpoint plus its lifecycle
// state. Performance counters live in ProxyMetrics and are owned by the
// metrics tracker, never written here.
type Proxy struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	Host     string   `gorm:"not null;index:idx_proxy_endpoint,priority:1" json:"host"`
	Port     uint16   `gorm:"not null;index:idx_proxy_endpoint,priority:2" json:"port"`
	Protocol Protocol `gorm:"size:10;not null;index" json:"protocol"`

	Username          string `gorm:"default:''" json:"username"`
	Password          string `gorm:"-" json:"password"`
	PasswordEncrypted string `gorm:"column:password;default:''" json:"-"`

	Country string     `gorm:"size:2;index" json:"country"`
	City    string     `gorm:"size:64" json:"city"`
	Tags    StringList `gorm:"type:text" json:"tags"`

	MaxConcurrent int32  `gorm:"not null;default:10" json:"max_concurrent"`
	Status        Status `gorm:"size:12;not null;index" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewProxy builds an Active proxy with a fresh id and validated config.
func NewProxy(host string, port uint16, protocol Protocol) (*Proxy, error) {
	proxy := &Proxy{
		ID:            uuid.NewString(),
		Host:          strings.TrimSpace(host),
		Port:          port,
		Protocol:      protocol,
		MaxConcurrent: DefaultMaxConcurrent,
		Status:        StatusActive,
	}
	if err := proxy.Validate(); err != nil {
		return nil, err
	}
	return proxy, nil
}

func (proxy *Proxy) Validate() error {
	if proxy.Host == "" {
		return errors.New("proxy host must not be empty")
	}
	if strings.ContainsAny(proxy.Host, " /@") {
		return fmt.Errorf("invalid proxy host %q", proxy.Host)
	}
	if proxy.Port == 0 {
		return errors.New("proxy port must not be zero")
	}
	if !proxy.Protocol.IsValid() {
		return fmt.Errorf("unknown proxy protocol %q", proxy.Protocol)
	}
	if proxy.MaxConcurrent <= 0 {
		return errors.New("proxy max_concurrent must be positive")
	}
	if proxy.Country != "" && len(proxy.Country) != 2 {
		return fmt.Errorf("country must be an ISO 3166-1 alpha-2 code, got %q", proxy.Country)
	}
	return nil
}

func (proxy *Proxy) BeforeSave(_ *gorm.DB) error {
	if proxy.Password == "" && proxy.PasswordEncrypted != "" {
		plain, err := security.DecryptCredential(proxy.PasswordEncrypted)
		if err != nil {
			return err
		}
		proxy.Password = plain
	}

	if proxy.Password == "" {
		proxy.PasswordEncrypted = ""
		return nil
	}

	sealed, err := security.EncryptCredential(proxy.Password)
	if err != nil {
		return err
	}
	proxy.PasswordEncrypted = sealed
	return nil
}

func (proxy *Proxy) AfterFind(_ *gorm.DB) error {
	plain, err := security.DecryptCredential(proxy.PasswordEncrypted)
	if err != nil {
		return err
	}
	proxy.Password = plain
	return nil
}

// Endpoint returns the dialable host:port address.
func (proxy *Proxy) Endpoint() string {
	return net.JoinHostPort(proxy.Host, fmt.Sprintf("%d", proxy.Port))
}

// URL renders the proxy as a URL usable by HTTP clients and dialers.
func (proxy *Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: proxy.Protocol.String(),
		Host:   proxy.Endpoint(),
	}
	if proxy.HasAuth() {
		u.User = url.UserPassword(proxy.Username, proxy.Password)
	}
	return u
}

func (proxy *Proxy) HasAuth() bool {
	return proxy.Username != "" && proxy.Password != ""
}

// HasTag reports whether the proxy carries the given free-form tag.
func (proxy *Proxy) HasTag(tag string) bool {
	for _, t := range proxy.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (proxy *Proxy) Clone() *Proxy {
	clone := *proxy
	clone.Tags = proxy.Tags.Clone()
	return &clone
}
