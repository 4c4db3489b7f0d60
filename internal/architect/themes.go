package architect

import (
	"fmt"
	"sort"
	"strings"
)

// Theme is the design system of a well-known application.
type Theme struct {
	Name         string
	Colors       map[string]string
	Font         string
	Layout       string
	Components   []string
	BorderRadius string
	SamplePage   string
}

// designKeywords maps design targets to the request phrases that select
// them. Targets are checked in designOrder.
var designKeywords = map[string][]string{
	"LINKEDIN":  {"linkedin", "professional network", "job network"},
	"TWITTER":   {"twitter", "x.com", "tweet", "microblog"},
	"INSTAGRAM": {"instagram", "insta", "photo sharing"},
	"FACEBOOK":  {"facebook", "fb", "social network"},
	"SLACK":     {"slack", "team chat", "workspace chat"},
	"SPOTIFY":   {"spotify", "music streaming", "music player"},
	"NOTION":    {"notion", "note taking", "workspace"},
	"AIRBNB":    {"airbnb", "vacation rental", "booking"},
}

var designOrder = []string{"LINKEDIN", "TWITTER", "INSTAGRAM", "FACEBOOK", "SLACK", "SPOTIFY", "NOTION", "AIRBNB"}

// Themes holds the design systems for every design target.
var Themes = map[string]Theme{
	"LINKEDIN": {
		Name:         "LinkedIn",
		Colors:       map[string]string{"primary": "#0a66c2", "secondary": "#f3f2ef", "background": "#f4f2ee", "card": "#ffffff", "text": "#000000e6", "success": "#057642"},
		Font:         "system-ui, -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif",
		Layout:       "navbar-top-fixed, three-column-grid",
		Components:   []string{"Fixed top navbar (white, 52px height, shadow)", "Left sidebar (profile card, 225px width)", "Center feed (max 555px)", "Right sidebar (news, 300px width)", "Card-based posts with reactions bar"},
		BorderRadius: "8px",
		SamplePage:   "feed/home with post composer and posts",
	},
	"TWITTER": {
		Name:         "Twitter/X",
		Colors:       map[string]string{"primary": "#1d9bf0", "secondary": "#0f1419", "background": "#000000", "card": "#16181c", "text": "#e7e9ea", "border": "#2f3336"},
		Font:         "'TwitterChirp', -apple-system, system-ui, sans-serif",
		Layout:       "sidebar-left-fixed, feed-center, trends-right",
		Components:   []string{"Left sidebar navigation", "Center timeline (max 600px)", "Right sidebar (search, trends, 350px)", "Tweet cards with reply/retweet/like/share bar"},
		BorderRadius: "16px (full round for buttons)",
		SamplePage:   "home timeline with tweet composer",
	},
	"INSTAGRAM": {
		Name:         "Instagram",
		Colors:       map[string]string{"primary": "#0095f6", "background": "#000000", "card": "#000000", "text": "#f5f5f5", "border": "#262626"},
		Font:         "-apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, sans-serif",
		Layout:       "navbar-top, stories-row, grid-feed",
		Components:   []string{"Top navbar with logo, search, icons", "Stories row (horizontal scroll, circular thumbnails)", "Post cards (square images, action bar)", "Grid profile view (3 columns)"},
		BorderRadius: "8px cards, full round for stories",
		SamplePage:   "feed with stories and posts",
	},
	"FACEBOOK": {
		Name:         "Facebook",
		Colors:       map[string]string{"primary": "#1877f2", "secondary": "#42b72a", "background": "#18191a", "card": "#242526", "text": "#e4e6eb"},
		Font:         "Segoe UI, Helvetica, Arial, sans-serif",
		Layout:       "navbar-top-fixed, three-column",
		Components:   []string{"Blue top navbar (56px)", "Left navigation (shortcuts, groups)", "Center feed (posts, stories)", "Right sidebar (contacts, chat)"},
		BorderRadius: "8px",
		SamplePage:   "news feed with post composer",
	},
	"SLACK": {
		Name:         "Slack",
		Colors:       map[string]string{"primary": "#4a154b", "secondary": "#36c5f0", "accent": "#ecb22e", "background": "#1a1d21", "sidebar": "#19171d", "text": "#d1d2d3"},
		Font:         "Slack-Lato, Lato, 'Helvetica Neue', sans-serif",
		Layout:       "sidebar-left-fixed, channel-center, thread-right",
		Components:   []string{"Workspace switcher (left edge)", "Channel sidebar (220px)", "Main message area (threaded)", "Message input with rich formatting"},
		BorderRadius: "6px",
		SamplePage:   "channel view with messages",
	},
	"SPOTIFY": {
		Name:         "Spotify",
		Colors:       map[string]string{"primary": "#1db954", "background": "#121212", "card": "#181818", "card_hover": "#282828", "text": "#ffffff"},
		Font:         "Circular, spotify-circular, Helvetica, Arial, sans-serif",
		Layout:       "sidebar-left, main-content, now-playing-bottom",
		Components:   []string{"Left navigation sidebar (dark)", "Album art grid (cards)", "Now Playing bar (bottom, fixed)", "Progress bar with hover preview"},
		BorderRadius: "8px cards, 4px for now-playing",
		SamplePage:   "home with playlists grid",
	},
	"NOTION": {
		Name:         "Notion",
		Colors:       map[string]string{"primary": "#000000", "background": "#191919", "card": "#202020", "text": "#ffffffcf", "accent": "#35a9ff"},
		Font:         "ui-sans-serif, -apple-system, BlinkMacSystemFont, sans-serif",
		Layout:       "sidebar-left-collapsible, main-editor",
		Components:   []string{"Collapsible sidebar with pages tree", "Page header with icon/cover", "Block-based editor", "Slash command menu"},
		BorderRadius: "3px",
		SamplePage:   "workspace with page tree and editor",
	},
	"AIRBNB": {
		Name:         "Airbnb",
		Colors:       map[string]string{"primary": "#ff385c", "secondary": "#00a699", "background": "#ffffff", "text": "#222222", "border": "#dddddd"},
		Font:         "Circular, -apple-system, BlinkMacSystemFont, Roboto, sans-serif",
		Layout:       "navbar-top, search-hero, card-grid",
		Components:   []string{"Sticky navbar with search bar", "Category filter bar (horizontal scroll)", "Listing cards (image carousel, details)", "Wishlist heart icon"},
		BorderRadius: "12px",
		SamplePage:   "home with search and listings grid",
	},
}

// DetectDesignTarget reports which well-known app a request asks to clone.
func DetectDesignTarget(prompt string) (string, bool) {
	lower := strings.ToLower(prompt)
	for _, target := range designOrder {
		for _, kw := range designKeywords[target] {
			if strings.Contains(lower, kw) {
				return target, true
			}
		}
	}
	return "", false
}

// ThemePrompt renders the design system of target as a system prompt
// addendum. Unknown targets yield "".
func ThemePrompt(target string) string {
	theme, ok := Themes[strings.ToUpper(target)]
	if !ok {
		return ""
	}

	keys := make([]string, 0, len(theme.Colors))
	for k := range theme.Colors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "\n\n=== CLONE PROTOCOL: %s ===\n\n", theme.Name)
	fmt.Fprintf(&b, "Replicate %s's design exactly.\n\nCSS VARIABLES (MUST USE EXACTLY):\n:root {\n", theme.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, "    --%s: %s;\n", k, theme.Colors[k])
	}
	fmt.Fprintf(&b, "    --font-family: %s;\n    --border-radius: %s;\n}\n\n", theme.Font, theme.BorderRadius)
	fmt.Fprintf(&b, "LAYOUT: %s\n\nREQUIRED COMPONENTS:\n", theme.Layout)
	for _, c := range theme.Components {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	fmt.Fprintf(&b, "\nSAMPLE PAGE TO BUILD: %s\n\n", theme.SamplePage)
	b.WriteString("Include a realistic mock login page as the entry point, realistic placeholder content, hover states and a mobile layout.\n")
	return b.String()
}
