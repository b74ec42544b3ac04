// Package stealth synthesizes the browser identity presented to the vendor.
//
// Every outbound call gets a freshly drawn user agent, and every client hint is
// derived from that same string so brand, platform and mobile claims never
// disagree within one request.
package stealth

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// DefaultMajorVersion is reported when the user agent carries no Chromium version.
const DefaultMajorVersion = "99"

// notABrand is the GREASE entry Chromium appends to its brand list.
const notABrand = `"Not A(Brand";v="99"`

const (
	PlatformWindows = "Windows"
	PlatformMacOS   = "macOS"
	PlatformAndroid = "Android"
	PlatformLinux   = "Linux"
	PlatformUnknown = "Unknown"

	MobileYes = "?1"
	MobileNo  = "?0"
)

var majorVersionRe = regexp.MustCompile(`(?:Edg|Chrome|Chromium)/(\d+)`)

// platformRules is ordered: Android user agents also contain "Linux".
var platformRules = []struct {
	needles  []string
	platform string
}{
	{[]string{"windows"}, PlatformWindows},
	{[]string{"mac os x", "macintosh"}, PlatformMacOS},
	{[]string{"android"}, PlatformAndroid},
	{[]string{"linux"}, PlatformLinux},
}

// Synthesizer builds identities from a user agent provider.
type Synthesizer struct {
	provider UserAgentProvider
	logger   *zap.Logger
}

// NewSynthesizer creates a Synthesizer. A nil provider uses the default pool.
func NewSynthesizer(provider UserAgentProvider, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("stealth")
	if provider == nil {
		provider = NewDefaultProvider(logger)
	}
	return &Synthesizer{provider: provider, logger: logger}
}

// Synthesize draws a user agent and derives its client hints. It never fails.
func (s *Synthesizer) Synthesize() schemas.Identity {
	ua, err := s.provider.Random()
	if err != nil || ua == "" {
		s.logger.Debug("User agent provider failed, using fallback UA.", zap.Error(err))
		ua = FallbackUserAgent
	}
	return IdentityFor(ua)
}

// IdentityFor derives the full identity for a known user agent.
func IdentityFor(ua string) schemas.Identity {
	return schemas.Identity{
		UserAgent: ua,
		ClientHints: schemas.ClientHints{
			Brands:   BrandList(ua),
			Mobile:   MobileFlag(ua),
			Platform: PlatformToken(ua),
		},
	}
}

// MajorVersion returns the first Chromium-family major version in ua.
func MajorVersion(ua string) string {
	if m := majorVersionRe.FindStringSubmatch(ua); m != nil {
		return m[1]
	}
	return DefaultMajorVersion
}

// BrandList renders the sec-ch-ua value for ua.
func BrandList(ua string) string {
	major := MajorVersion(ua)
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "edg"):
		return fmt.Sprintf(`"Microsoft Edge";v="%s", "Chromium";v="%s", %s`, major, major, notABrand)
	case strings.Contains(lower, "chrome"), strings.Contains(lower, "chromium"):
		return fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", %s`, major, major, notABrand)
	default:
		return fmt.Sprintf(`"Chromium";v="%s", %s`, major, notABrand)
	}
}

// MobileFlag returns the sec-ch-ua-mobile value for ua.
func MobileFlag(ua string) string {
	if strings.Contains(strings.ToLower(ua), "mobile") {
		return MobileYes
	}
	return MobileNo
}

// PlatformToken returns the unquoted sec-ch-ua-platform value for ua.
func PlatformToken(ua string) string {
	lower := strings.ToLower(ua)
	for _, rule := range platformRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.platform
			}
		}
	}
	return PlatformUnknown
}
