package support

import (
	"testing"

	"proxypool/internal/domain"
)

func TestParseTextToProxies(t *testing.T) {
	text := "203.0.113.1:8080\n" +
		"203.0.113.2:1080:user:pass\n" +
		"# comment line\n" +
		"not-a-proxy\n" +
		"203.0.113.3:99999\n" +
		"\n"

	proxies := ParseTextToProxies(text, domain.ProtocolHTTP)
	if len(proxies) != 2 {
		t.Fatalf("parsed %d proxies, want 2", len(proxies))
	}

	if proxies[0].Endpoint() != "203.0.113.1:8080" {
		t.Fatalf("first endpoint = %q", proxies[0].Endpoint())
	}
	if !proxies[1].HasAuth() {
		t.Fatal("second proxy should carry credentials")
	}
	if proxies[1].Username != "user" || proxies[1].Password != "pass" {
		t.Fatalf("credentials = %q:%q, want user:pass", proxies[1].Username, proxies[1].Password)
	}
	for _, proxy := range proxies {
		if proxy.Protocol != domain.ProtocolHTTP {
			t.Fatalf("protocol = %q, want http", proxy.Protocol)
		}
	}
}

func TestFindIP(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"REMOTE_ADDR = 198.51.100.7", "198.51.100.7"},
		{"no address here", ""},
		{"mixed 2001:0db8:0000:0000:0000:0000:0000:0001 text", "2001:0db8:0000:0000:0000:0000:0000:0001"},
	}

	for _, tc := range cases {
		if got := FindIP(tc.input); got != tc.want {
			t.Fatalf("FindIP(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
