package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const tagURIYear = 2013

var tagURIRegex = regexp.MustCompile(`^tag:([^,]+),\d+:(.+)$`)

// TagURI строит глобальный id вида tag:instagram.com,2013:123.
func TagURI(domain, id string) string {
	return fmt.Sprintf("tag:%s,%d:%s", domain, tagURIYear, id)
}

// ParseTagURI возвращает домен и локальный id из tag URI.
func ParseTagURI(uri string) (domain, id string, ok bool) {
	m := tagURIRegex.FindStringSubmatch(uri)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

var strippedHostPrefixes = []string{"www.", "mobile.", "m."}

// DomainFromLink возвращает домен ссылки в нижнем регистре без www., mobile. и m.
func DomainFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range strippedHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			host = strings.TrimPrefix(host, prefix)
			break
		}
	}
	return host
}

// DomainsFromLinks возвращает множество доменов ссылок с сохранением порядка.
func DomainsFromLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, l := range links {
		d := DomainFromLink(l)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
