package duckchat

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// UserAgents is the default identity pool. One entry is picked per call and
// used both as the User-Agent header and to seed the challenge sandbox.
var UserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 11; moto g power (2022)) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 8.0.0; SM-G955U Build/R16NW) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 11.0; Surface Duo) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Mobile Safari/537.36",
}

const (
	headerVqdHash          = "X-Vqd-Hash-1"
	headerVqdAccept        = "X-Vqd-Accept"
	headerForwardedFor     = "X-Forwarded-For"
	defaultAcceptLang      = "en-US,en;q=0.9,id;q=0.8"
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
)

func (c *Client) pickIdentity() string {
	return c.userAgents[rand.IntN(len(c.userAgents))]
}

// setHeaders applies the browser-like header set shared by the status and
// chat requests.
func (c *Client) setHeaders(req *http.Request, identity string) {
	req.Header.Set("Accept-Language", defaultAcceptLang)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", identity)
	req.Header.Set(headerVqdAccept, "1")
	if !c.disableForwardedFor {
		req.Header.Set(headerForwardedFor, randomIPv4()+", "+randomIPv6())
	}

	// Extra headers replace the defaults of the same name
	for key, values := range c.extraHeaders {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}

func randomIPv4() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.IntN(255), rand.IntN(255), rand.IntN(255), rand.IntN(255))
}

func randomIPv6() string {
	parts := make([]string, 8)
	for i := range parts {
		parts[i] = fmt.Sprintf("%04x", rand.IntN(0x10000))
	}
	return strings.Join(parts, ":")
}
