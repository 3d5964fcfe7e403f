package git

import (
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultCredentialHosts lists the hosts for which credentials are embedded
// into HTTPS URLs.
var DefaultCredentialHosts = []string{"github.com"}

const redacted = "[REDACTED]"

// Credential is a short-lived secret used to authenticate a single network
// call. It never prints its value.
type Credential string

// IsZero reports whether no credential was supplied.
func (c Credential) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

// String implements fmt.Stringer without revealing the secret.
func (c Credential) String() string {
	if c.IsZero() {
		return ""
	}
	return redacted
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// GoString keeps %#v from printing the secret.
func (c Credential) GoString() string {
	return c.String()
}

// NormalizeRemoteURL expands "owner/repo" shorthand into a GitHub HTTPS URL
// and trims whitespace. Other forms are returned unchanged.
func NormalizeRemoteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") || strings.Contains(raw, "@") || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, ".") {
		return raw
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" && !strings.Contains(parts[0], ".") {
		return "https://github.com/" + parts[0] + "/" + parts[1]
	}
	return raw
}

// RepoNameFromURL derives a local directory name from a remote URL: the last
// path segment with any .git suffix removed.
func RepoNameFromURL(remote string) string {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimRight(remote, "/")
	if i := strings.LastIndexAny(remote, "/:"); i >= 0 {
		remote = remote[i+1:]
	}
	remote = strings.TrimSuffix(remote, ".git")
	if remote == "" || remote == "." || remote == ".." {
		return ""
	}
	return path.Base(remote)
}

// AuthenticatedURL embeds cred into remote as scheme://cred@host/... when the
// remote is an HTTP(S) URL on one of hosts and carries no userinfo yet. The
// boolean reports whether an authenticated variant was produced.
func AuthenticatedURL(remote string, cred Credential, hosts []string) (string, bool) {
	if cred.IsZero() {
		return remote, false
	}
	u, err := url.Parse(strings.TrimSpace(remote))
	if err != nil {
		return remote, false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return remote, false
	}
	if u.User != nil {
		return remote, false
	}
	if !hostRecognized(u.Hostname(), hosts) {
		return remote, false
	}
	u.User = url.User(strings.TrimSpace(string(cred)))
	return u.String(), true
}

// StripCredentials removes any userinfo from an HTTP(S) URL.
func StripCredentials(remote string) string {
	u, err := url.Parse(strings.TrimSpace(remote))
	if err != nil || u.User == nil || (u.Scheme != "https" && u.Scheme != "http") {
		return remote
	}
	u.User = nil
	return u.String()
}

func hostRecognized(host string, hosts []string) bool {
	if len(hosts) == 0 {
		hosts = DefaultCredentialHosts
	}
	host = strings.ToLower(host)
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

var userinfoPattern = regexp.MustCompile(`(://)[^/@\s]+@`)

// RedactURLs masks userinfo in any URL found in s.
func RedactURLs(s string) string {
	return userinfoPattern.ReplaceAllString(s, "${1}"+redacted+"@")
}
