package checker

import (
	"errors"
	"io"
	"net/http"

	"proxypool/internal/config"
	"proxypool/internal/support"
)

// FetchEgressIP asks the configured lookup service for this instance's
// public address. The anonymity check needs it to spot transparent proxies
// that leak the caller's IP to the judge.
func FetchEgressIP() (string, error) {
	lookupURL := config.GetConfig().Checker.IPLookupURL
	if lookupURL == "" {
		return "", errors.New("no ip lookup url configured")
	}

	resp, err := http.Get(lookupURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	ip := support.FindIP(string(body))
	if !support.IsIP(ip) {
		return "", errors.New("ip lookup response contained no usable address")
	}
	return ip, nil
}
