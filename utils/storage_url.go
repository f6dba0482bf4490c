package utils

import (
	"net/url"
	"strings"
)

// ObjectURLBuilder turns an object key into the link written to the report table.
type ObjectURLBuilder struct {
	// AccessBaseURL may contain an {objectKey} placeholder or end in a query
	// parameter; it wins over Host/Bucket when set.
	AccessBaseURL string
	Host          string
	Bucket        string
}

func (b ObjectURLBuilder) Build(objectKey string) string {
	base := strings.TrimSpace(b.AccessBaseURL)
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	host := strings.TrimSpace(b.Host)
	bucket := strings.TrimSpace(b.Bucket)
	if host != "" && bucket != "" {
		return "https://" + host + "/" + bucket + "/" + objectKey
	}
	if bucket != "" {
		return "gs://" + bucket + "/" + objectKey
	}
	return objectKey
}

// ObjectKey is the inverse of Build for URLs it produced.
func (b ObjectURLBuilder) ObjectKey(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	if strings.HasPrefix(rawURL, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	base := strings.TrimSpace(b.AccessBaseURL)
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			parts := strings.Split(base, "{objectKey}")
			if len(parts) == 2 && strings.HasPrefix(rawURL, parts[0]) && strings.HasSuffix(rawURL, parts[1]) {
				trimmed := strings.TrimSuffix(strings.TrimPrefix(rawURL, parts[0]), parts[1])
				if decoded, err := url.QueryUnescape(trimmed); err == nil {
					return decoded
				}
				return trimmed
			}
		}
		if strings.HasPrefix(rawURL, base) {
			trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, base), "/")
			if decoded, err := url.QueryUnescape(trimmed); err == nil {
				return decoded
			}
			return trimmed
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	// https://storage.googleapis.com/<bucket>/<objectKey>
	p := strings.TrimPrefix(parsed.Path, "/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) == 2 && parts[1] != "" && (b.Bucket == "" || parts[0] == b.Bucket) {
		return parts[1]
	}
	return ""
}
