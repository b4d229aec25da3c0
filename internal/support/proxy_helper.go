package support

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"proxypool/internal/domain"
)

// ParseTextToProxies turns a newline-separated "host:port" or
// "host:port:username:password" listing into proxy records. Invalid lines are
// skipped, not reported: bulk imports routinely carry garbage.
func ParseTextToProxies(text string, protocol domain.Protocol) []*domain.Proxy {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")
	proxies := make([]*domain.Proxy, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		split := strings.Split(line, ":")
		count := len(split)
		if count != 2 && count != 4 {
			continue
		}

		port, err := strconv.Atoi(split[1])
		if err != nil || port < 1 || port > 65535 {
			continue
		}

		proxy, err := domain.NewProxy(split[0], uint16(port), protocol)
		if err != nil {
			continue
		}

		if count == 4 {
			proxy.Username = split[2]
			proxy.Password = split[3]
		}

		proxies = append(proxies, proxy)
	}

	return proxies
}

// FindIP identifies the first IP address (IPv4 or IPv6) in a given string.
func FindIP(input string) string {
	ipRegex := `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b|` + // IPv4
		`\b(?:[A-Fa-f0-9]{1,4}:){7}[A-Fa-f0-9]{1,4}\b` // IPv6

	return regexp.MustCompile(ipRegex).FindString(input)
}

// IsIP reports whether the candidate is a literal IP address.
func IsIP(candidate string) bool {
	return net.ParseIP(candidate) != nil
}
