// Package hostname cleans the hostnames captive clients put in option 12
// before they are stored with a lease or written to the audit log.
// Clients send emoji, spaces, control characters and placeholder names such
// as "localhost" or "android-abc123def"; none of that is useful to an
// operator reading the lease table.
package hostname

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/captive-dhcpd/captive-dhcpd/internal/config"
)

// builtinDeny names that identify nothing and are replaced with the fallback.
var builtinDeny = compileAll([]string{
	`^localhost$`,
	`^localhost\.localdomain$`,
	`^android-[a-f0-9]{12,}$`,
	`^galaxy-[a-f0-9]+$`,
	`^iphone$`,
	`^ipad$`,
	`^host$`,
	`^dhcp$`,
	`^unknown$`,
	`^none$`,
	`^null$`,
	`^default$`,
	`^\*$`,
	`^_$`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// Sanitiser applies the configured cleanup pipeline to client hostnames.
// It holds no mutable state and is safe for concurrent use.
type Sanitiser struct {
	cfg          config.HostnameConfig
	allowRegex   *regexp.Regexp
	denyPatterns []*regexp.Regexp
	logger       *slog.Logger
}

// NewSanitiser compiles the configured patterns.
func NewSanitiser(cfg config.HostnameConfig, logger *slog.Logger) (*Sanitiser, error) {
	s := &Sanitiser{cfg: cfg, logger: logger}

	if cfg.AllowRegex != "" {
		re, err := regexp.Compile(cfg.AllowRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling allow_regex %q: %w", cfg.AllowRegex, err)
		}
		s.allowRegex = re
	}
	for _, p := range cfg.DenyPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling deny_pattern %q: %w", p, err)
		}
		s.denyPatterns = append(s.denyPatterns, re)
	}
	return s, nil
}

// Sanitise returns the cleaned hostname for a client. An empty input stays
// empty; a name rejected by a deny rule or the allow regex is replaced with
// the fallback built from the MAC.
func (s *Sanitiser) Sanitise(name, mac string) string {
	if name == "" {
		return ""
	}
	original := name

	name = stripControlChars(name)
	if s.cfg.StripEmoji {
		name = stripEmoji(name)
	}
	name = stripInvalidDNS(name)
	if s.cfg.Lowercase {
		name = strings.ToLower(name)
	}
	name = strings.Trim(name, ".-")
	name = collapseRepeated(name)

	maxLen := s.cfg.MaxLength
	if maxLen <= 0 {
		maxLen = 63 // DNS label limit
	}
	if len(name) > maxLen {
		name = strings.TrimRight(name[:maxLen], ".-")
	}

	var reason string
	switch {
	case name == "":
		reason = "empty after cleanup"
	case matchesAny(name, builtinDeny):
		reason = "built-in deny"
	case matchesAny(name, s.denyPatterns):
		reason = "deny pattern"
	case s.allowRegex != nil && !s.allowRegex.MatchString(name):
		reason = "allow regex"
	default:
		return name
	}

	fallback := s.fallback(mac)
	s.logger.Debug("hostname replaced",
		"original", original,
		"cleaned", name,
		"replacement", fallback,
		"reason", reason,
		"mac", mac)
	return fallback
}

// fallback fills {mac} in the template with the colon-free MAC.
func (s *Sanitiser) fallback(mac string) string {
	tmpl := s.cfg.FallbackTemplate
	if tmpl == "" {
		tmpl = config.DefaultHostnameFallback
	}
	return strings.ReplaceAll(tmpl, "{mac}", strings.ReplaceAll(mac, ":", ""))
}

func matchesAny(name string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// stripControlChars removes ASCII control characters and DEL.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripEmoji removes emoji and other symbol runes.
func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isEmoji(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isEmoji(r rune) bool {
	if r < 128 {
		return false
	}
	return unicode.Is(unicode.So, r) ||
		unicode.Is(unicode.Sk, r) ||
		(r >= 0x1F300 && r <= 0x1F6FF) ||
		(r >= 0x1F900 && r <= 0x1F9FF) ||
		(r >= 0x2600 && r <= 0x27BF) ||
		(r >= 0xFE00 && r <= 0xFE0F) || // variation selectors
		r == 0x200D // zero-width joiner
}

// stripInvalidDNS keeps only letters, digits, hyphen and dot (RFC 952/1123).
func stripInvalidDNS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range []byte(s) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// collapseRepeated collapses runs of dots or hyphens.
func collapseRepeated(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '.' || c == '-') && c == prev {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}
