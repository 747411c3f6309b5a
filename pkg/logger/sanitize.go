package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username, domain := parts[0], parts[1]
	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// MaskSubject masks threat subjects that are email identities and leaves
// user IDs and IPs alone.
func MaskSubject(subject string) string {
	if strings.Contains(subject, "@") {
		return SanitizedEmail(subject)
	}
	return subject
}

var sensitiveParams = []string{
	"password", "token", "secret", "code", "email",
	"ssn", "dob", "dateofbirth", "phone", "auth",
}

// SanitizeQueryString reports whether a raw query should be redacted from
// request logs.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
