package cache

import (
	"strings"
	"time"
)

const defaultReferenceTTL = time.Hour

// ReferenceCodeCache holds the numeric country and currency codes used when
// building accounting records.
type ReferenceCodeCache interface {
	GetCountry(country string) (string, bool)
	SetCountry(country, code string)
	GetCurrency(currency string) (string, bool)
	SetCurrency(currency, code string)
}

type referenceCodeCache struct {
	countries  Cache[string, string]
	currencies Cache[string, string]
	ttl        time.Duration
}

func NewReferenceCodeCache() ReferenceCodeCache {
	return newReferenceCodeCache(time.Now, defaultReferenceTTL)
}

func newReferenceCodeCache(now func() time.Time, ttl time.Duration) *referenceCodeCache {
	return &referenceCodeCache{
		countries:  newTTLCache[string, string](now),
		currencies: newTTLCache[string, string](now),
		ttl:        ttl,
	}
}

func (c *referenceCodeCache) GetCountry(country string) (string, bool) {
	return c.countries.Get(cacheKey(country))
}

func (c *referenceCodeCache) SetCountry(country, code string) {
	if strings.TrimSpace(code) == "" {
		return
	}
	c.countries.Set(cacheKey(country), code, c.ttl)
}

func (c *referenceCodeCache) GetCurrency(currency string) (string, bool) {
	return c.currencies.Get(cacheKey(currency))
}

func (c *referenceCodeCache) SetCurrency(currency, code string) {
	if strings.TrimSpace(code) == "" {
		return
	}
	c.currencies.Set(cacheKey(currency), code, c.ttl)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
