package scraper

// IdentityProvider supplies the User-Agent sent with each request. When the
// fetcher has none it falls back to colly's randomized browser identities.
type IdentityProvider interface {
	UserAgent() string
}

// FixedUserAgent always presents the same identity.
type FixedUserAgent string

func (f FixedUserAgent) UserAgent() string {
	return string(f)
}
