package geo

import (
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"
	"golang.org/x/sync/singleflight"
)

const lookupCacheSize = 8192

// Location is what the registry needs to tag a proxy geographically.
type Location struct {
	Country string // ISO 3166-1 alpha-2
	City    string
}

// Resolver maps proxy hosts onto countries using a local GeoLite2 database.
// A missing database is not an error: lookups simply return empty locations
// and proxies keep whatever geo data the caller supplied.
type Resolver struct {
	db    *geoip2.Reader
	cache *lru.Cache[string, Location]
	group singleflight.Group
}

func NewResolver(dbPath string) *Resolver {
	cache, _ := lru.New[string, Location](lookupCacheSize)
	resolver := &Resolver{cache: cache}

	if dbPath == "" {
		return resolver
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		log.Warn("geo resolver: could not open GeoLite2 database, lookups disabled",
			"path", dbPath, "error", err)
		return resolver
	}

	resolver.db = db
	return resolver
}

func (r *Resolver) Close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

// Resolve looks up the location for a proxy host. Hostnames are resolved to
// their first address; concurrent lookups for the same host are deduplicated.
func (r *Resolver) Resolve(host string) Location {
	if r.db == nil || host == "" {
		return Location{}
	}

	if cached, ok := r.cache.Get(host); ok {
		return cached
	}

	result, err, _ := r.group.Do(host, func() (any, error) {
		location, err := r.lookup(host)
		if err != nil {
			return Location{}, err
		}
		r.cache.Add(host, location)
		return location, nil
	})
	if err != nil {
		log.Debug("geo lookup failed", "host", host, "error", err)
		return Location{}
	}

	return result.(Location)
}

func (r *Resolver) lookup(host string) (Location, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return Location{}, fmt.Errorf("resolve host %q: %w", host, err)
		}
		ip = addrs[0]
	}

	record, err := r.db.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geoip lookup for %s: %w", ip, err)
	}

	location := Location{Country: record.Country.IsoCode}
	if name, ok := record.City.Names["en"]; ok {
		location.City = name
	}
	return location, nil
}
