package bundle

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// mediaRefPattern matches a fan-out media path inside an attribute value.
var mediaRefPattern = regexp.MustCompile(`media/[0-9a-fA-F]{2}/[0-9a-fA-F]{2}/([0-9a-fA-F]{64})\.[A-Za-z0-9]+`)

// LegacyContentRefs scans page HTML for references to content-store files and
// returns the SHA-256 digests found, in order of first appearance. It backs
// imports of bundles written before refs were exported; current bundles carry
// explicit refs and never go through it.
func LegacyContentRefs(contentHTML string) []string {
	var found []string
	seen := make(map[string]bool)
	collect := func(s string) {
		for _, m := range mediaRefPattern.FindAllStringSubmatch(s, -1) {
			sha := strings.ToLower(m[1])
			if !seen[sha] {
				seen[sha] = true
				found = append(found, sha)
			}
		}
	}

	z := html.NewTokenizer(strings.NewReader(contentHTML))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				// Malformed markup: fall back to scanning the raw text.
				collect(contentHTML)
			}
			return found
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "src", "href", "data-src", "poster":
					collect(string(val))
				}
			}
		}
	}
}
