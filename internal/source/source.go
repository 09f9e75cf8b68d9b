// Package source recognises the video links the bot accepts.
package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/knowledgebot/internal/types"
)

// Platform is one supported video host.
type Platform struct {
	Name    string
	Pattern *regexp.Regexp
}

// Builtin lists the hosts supported out of the box.
var Builtin = []Platform{
	{Name: "tiktok", Pattern: regexp.MustCompile(`^https?://(www\.|m\.)?tiktok\.com/@[\w.\-]+/video/\d+`)},
	{Name: "tiktok", Pattern: regexp.MustCompile(`^https?://(vm|vt)\.tiktok\.com/[\w\-]+/?`)},
	{Name: "instagram", Pattern: regexp.MustCompile(`^https?://(www\.)?instagram\.com/(p|reel|reels)/[\w\-]+/?`)},
}

// Matcher validates submitted URLs against a set of platforms.
type Matcher struct {
	platforms []Platform
}

// NewMatcher builds a matcher from the built-in platforms plus extra
// regular expressions, which are reported as platform "web".
func NewMatcher(extra []string) (*Matcher, error) {
	m := &Matcher{platforms: append([]Platform(nil), Builtin...)}
	for _, expr := range extra {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern %q: %w", expr, err)
		}
		m.platforms = append(m.platforms, Platform{Name: "web", Pattern: re})
	}
	return m, nil
}

// Match returns the platform name and the cleaned URL, or an error
// wrapping types.ErrUnsupportedURL.
func (m *Matcher) Match(raw string) (string, string, error) {
	clean := strings.TrimSpace(raw)
	u, err := url.Parse(clean)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not a web link", types.ErrUnsupportedURL, raw)
	}
	for _, p := range m.platforms {
		if p.Pattern.MatchString(clean) {
			return p.Name, clean, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", types.ErrUnsupportedURL, u.Host)
}

// Names lists the distinct built-in platform names for help text.
func (m *Matcher) Names() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range m.platforms {
		if p.Name == "web" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p.Name)
	}
	return out
}

var urlInText = regexp.MustCompile(`https?://\S+`)

// FindURL returns the first link in a chat message, if any.
func FindURL(text string) string {
	return strings.TrimRight(urlInText.FindString(text), ").,;!?\"'>")
}
