// Package sdkkey decodes the event-ingestion hostname embedded in an SDK
// key (§4.14). SDK keys are of the form "{random}.{url-safe-base64-no-pad}";
// the second segment decodes to a x-www-form-urlencoded string whose "eh"
// (event host) parameter names the ingestion hostname.
package sdkkey

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const ingestionPath = "v0/i"

// EventIngestionURL decodes sdkKey and returns the URL events should be
// POSTed to. It returns "", false when the key carries no "eh" parameter —
// event ingestion is disabled for that key, not an error condition.
func EventIngestionURL(sdkKey string) (string, bool) {
	_, encoded, ok := strings.Cut(sdkKey, ".")
	if !ok {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}

	values, err := url.ParseQuery(string(decoded))
	if err != nil {
		return "", false
	}

	hostname := values.Get("eh")
	if hostname == "" {
		return "", false
	}

	hostAndPath := hostname + "/" + ingestionPath
	if strings.HasSuffix(hostname, "/") {
		hostAndPath = hostname + ingestionPath
	}

	if strings.HasPrefix(hostAndPath, "http://") || strings.HasPrefix(hostAndPath, "https://") {
		return hostAndPath, true
	}

	return "https://" + hostAndPath, true
}
