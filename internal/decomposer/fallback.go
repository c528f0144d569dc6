package decomposer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/textscan"
)

var (
	pagePattern       = regexp.MustCompile(`(?i)\b(?:go to|navigate to|visit)\s+(?:the\s+)?(.+?)\s+page\b`)
	searchTermPattern = regexp.MustCompile(`(?i)\bsearch(?:\s+for)?\s+(.+)$`)
	trailingSite      = regexp.MustCompile(`(?i)\s+(?:on|in|at)\s+(?:the\s+)?(?:site|page|website)\b.*$`)
)

// fallback plans description from surface patterns alone:
//
//	"go to the <target> page"            -> search for the page
//	a URL or bare domain                 -> navigate, then fill and press Enter if "search" appears
//	search, find or lookup keywords      -> one search over the whole description
func (d *Decomposer) fallback(ctx context.Context, description string) []draft {
	if m := pagePattern.FindStringSubmatch(description); m != nil && !hasLocation(m[1]) {
		target := strings.TrimSpace(m[1])
		if tool := d.toolFor(ctx, d.searchTool, "search"); tool != "" {
			return []draft{{
				tool:        tool,
				description: fmt.Sprintf("Search for the %s page", target),
				params:      param.Map{"query": param.String(target + " page")},
			}}
		}
	}

	target := ""
	if u, ok := textscan.FirstURL(description); ok {
		target = u
	} else if dom, ok := textscan.BareDomain(description); ok {
		target = textscan.EnsureScheme(dom)
	}
	if target != "" {
		if browser := d.toolFor(ctx, d.browserTool, "navigate"); browser != "" {
			drafts := []draft{{
				tool:        browser,
				description: "Navigate to " + target,
				params: param.Map{
					"method": param.String("navigate"),
					"url":    param.String(target),
				},
			}}
			if term := searchTerm(description); term != "" {
				drafts = append(drafts,
					draft{
						tool:        browser,
						description: fmt.Sprintf("Type %q into the search box", term),
						params: param.Map{
							"method": param.String("fill"),
							"args": param.Object(param.Map{
								"selector": param.String(d.searchSelector),
								"value":    param.String(term),
							}),
						},
					},
					draft{
						tool:        browser,
						description: "Submit the search",
						params: param.Map{
							"method": param.String("press"),
							"args": param.Object(param.Map{
								"selector": param.String(d.searchSelector),
								"key":      param.String("Enter"),
							}),
						},
					},
				)
			}
			return drafts
		}
	}

	lower := strings.ToLower(description)
	if textscan.HasAnyWord(description, "search", "find", "lookup") || strings.Contains(lower, "look up") {
		if tool := d.toolFor(ctx, d.searchTool, "search"); tool != "" {
			return []draft{{
				tool:        tool,
				description: description,
				params:      param.Map{"query": param.String(strings.TrimSpace(description))},
			}}
		}
	}
	return nil
}

// searchTerm returns what follows "search" or "search for", minus a trailing
// "on the site" phrase and punctuation.
func searchTerm(description string) string {
	if !textscan.HasAnyWord(description, "search") {
		return ""
	}
	m := searchTermPattern.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	term := trailingSite.ReplaceAllString(m[1], "")
	return strings.Trim(strings.TrimSpace(term), `.,;:!?"'`)
}

func hasLocation(text string) bool {
	if _, ok := textscan.FirstURL(text); ok {
		return true
	}
	_, ok := textscan.BareDomain(text)
	return ok
}
