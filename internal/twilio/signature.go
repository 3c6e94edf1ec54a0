package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the request signature computed by Twilio.
const SignatureHeader = "X-Twilio-Signature"

// Sign computes the Twilio request signature for a webhook URL and its POST parameters.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		for _, val := range params[key] {
			b.WriteString(key)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validSignature(authToken, fullURL string, params url.Values, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := Sign(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// requestURL rebuilds the public URL Twilio signed. r.URL may already have the
// base path stripped; RequestURI is left as received.
func requestURL(r *http.Request) string {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + uri
}
