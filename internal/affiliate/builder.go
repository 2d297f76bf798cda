// Package affiliate turns a product name into an Amazon search URL carrying
// the affiliate tag.
package affiliate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	DomainCom = "amazon.com"
	DomainFr  = "amazon.fr"
)

var ErrEmptyProductName = errors.New("product name is empty")

// DefaultDomains routes French users to amazon.fr. Languages not listed use
// the fallback domain.
var DefaultDomains = map[string]string{
	"fr": DomainFr,
}

type Builder struct {
	tag      string
	domains  map[string]string
	fallback string
}

// NewBuilder validates the tag and canonicalizes every domain so that a value
// like "https://www.amazon.fr/" still yields a single "www.amazon.fr" host.
func NewBuilder(tag string, domains map[string]string, fallback string) (*Builder, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("affiliate tag is required")
	}
	if domains == nil {
		domains = DefaultDomains
	}
	if fallback == "" {
		fallback = DomainCom
	}

	b := &Builder{tag: tag, domains: make(map[string]string, len(domains))}
	for lang, domain := range domains {
		d := canonicalDomain(domain)
		if d == "" {
			return nil, fmt.Errorf("empty domain for language %q", lang)
		}
		b.domains[strings.ToLower(lang)] = d
	}
	if b.fallback = canonicalDomain(fallback); b.fallback == "" {
		return nil, fmt.Errorf("invalid fallback domain %q", fallback)
	}
	return b, nil
}

// Domain returns the retailer domain used for lang.
func (b *Builder) Domain(lang string) string {
	if d, ok := b.domains[strings.ToLower(lang)]; ok {
		return d
	}
	return b.fallback
}

// Build returns https://www.<domain>/s?k=<name>&tag=<tag>. The same inputs
// always give the same URL.
func (b *Builder) Build(productName, lang string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(productName))
	if name == "" {
		return "", ErrEmptyProductName
	}

	u := url.URL{
		Scheme:   "https",
		Host:     "www." + b.Domain(lang),
		Path:     "/s",
		RawQuery: url.Values{"k": {name}, "tag": {b.tag}}.Encode(),
	}
	return u.String(), nil
}

func canonicalDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}
