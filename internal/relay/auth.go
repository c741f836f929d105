package relay

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// parseBasicAuth extracts credentials from an Authorization header value.
func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}

// authorized compares both credentials in constant time. Empty configured
// credentials never match.
func (s *Service) authorized(header string) bool {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return false
	}
	username, password, ok := parseBasicAuth(header)
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password))
	return userOK&passOK == 1
}
