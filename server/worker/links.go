package worker

import "strings"

//LinkRewriter moves links of the origin site to the destination site.
type LinkRewriter interface {
	Rewrite(text string) string
}

type baseUrlRewriter struct {
	from string
	to   string
}

//NewLinkRewriter replaces every occurrence of the origin base url with the destination
//one. Nothing is rewritten when either url is empty.
func NewLinkRewriter(origin, destination string) LinkRewriter {
	return &baseUrlRewriter{from: strings.TrimSpace(origin), to: strings.TrimSpace(destination)}
}

func (r *baseUrlRewriter) Rewrite(text string) string {
	if r.from == "" || r.to == "" || text == "" {
		return text
	}
	return strings.ReplaceAll(text, r.from, r.to)
}
