package domain

import (
	"bufio"
	"io"
	"strings"
)

// Blacklist хранит домены и URL, которым не отправляются вебменшены и которые не загружаются.
// Создаётся один раз при старте процесса и далее не изменяется.
type Blacklist struct {
	domains map[string]struct{}
	urls    map[string]struct{}
}

// NewBlacklist создаёт блеклист.
func NewBlacklist(domains, urls []string) *Blacklist {
	b := &Blacklist{domains: make(map[string]struct{}), urls: make(map[string]struct{})}
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			b.domains[d] = struct{}{}
		}
	}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			b.urls[u] = struct{}{}
		}
	}
	return b
}

// ParseDomainList читает список доменов по одному на строку. Строки с # пропускаются.
func ParseDomainList(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// ContainsDomain сообщает, занесён ли домен или его корневой домен в блеклист.
func (b *Blacklist) ContainsDomain(domain string) bool {
	if b == nil {
		return false
	}
	domain = strings.ToLower(domain)
	if domain == "" {
		return false
	}
	if _, ok := b.domains[domain]; ok {
		return true
	}
	labels := strings.Split(domain, ".")
	if len(labels) > 2 {
		_, ok := b.domains[strings.Join(labels[len(labels)-2:], ".")]
		return ok
	}
	return false
}

// ContainsURL сообщает, запрещена ли загрузка конкретного URL.
func (b *Blacklist) ContainsURL(u string) bool {
	if b == nil {
		return false
	}
	_, ok := b.urls[u]
	return ok
}
