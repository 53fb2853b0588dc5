package taskproxy

import (
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
)

// BuildEmbedURL appends the session token, platform id and a fresh channel
// id to baseURL. The channel id is scopePrefix followed by a random number;
// it only needs to tell concurrent frames apart.
func BuildEmbedURL(baseURL, sessionToken, platformID, scopePrefix string) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteString(sep)
	b.WriteString("sToken=")
	b.WriteString(encodeURIComponent(sessionToken))
	b.WriteString("&sPlatform=")
	b.WriteString(encodeURIComponent(platformID))
	b.WriteString("&channelId=")
	b.WriteString(encodeURIComponent(scopePrefix + randomChannelID()))
	return b.String()
}

func randomChannelID() string {
	return strconv.Itoa(rand.IntN(2000000000)) + strconv.Itoa(rand.IntN(922337203)) //nolint:gosec // not a secret
}

var uriUnescaped = strings.NewReplacer( //nolint:gochecknoglobals // immutable replacer
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes s the way browsers do, leaving A-Z a-z 0-9
// - _ . ! ~ * ' ( ) untouched.
func encodeURIComponent(s string) string {
	return uriUnescaped.Replace(url.QueryEscape(s))
}
