package capture

import "regexp"

var (
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	secretPattern = regexp.MustCompile(`(?i)\b(key|token|secret|password|authorization)(["']?\s*[:=]\s*["']?)[^\s"',}]+`)
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`(?:\+|\b)\d{7,15}\b`)
)

// Sanitize redacts credentials, addresses and phone numbers from r's text.
func Sanitize(r Record) Record {
	s := jwtPattern.ReplaceAllString(r.Text, "REDACTED")
	s = secretPattern.ReplaceAllString(s, "${1}${2}REDACTED")
	s = ipPattern.ReplaceAllStringFunc(s, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})
	s = phonePattern.ReplaceAllString(s, "+15550001234")
	r.Text = s
	return r
}
