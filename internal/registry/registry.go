package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
)

var (
	ErrNotFound  = errors.New("proxy not found")
	ErrDuplicate = errors.New("proxy already registered")
)

// Filter narrows fleet lookups. Zero values match everything.
type Filter struct {
	Status   domain.Status
	Country  string
	Protocol domain.Protocol
	Tags     []string
}

// Registry is the authoritative in-memory fleet store. Lookups on the
// selection hot path are served from secondary indexes so a status+country
// query touches only matching records, never the whole fleet. The optional
// Store persists changes durably; its failures never affect reads.
type Registry struct {
	mu         sync.RWMutex
	proxies    map[string]*domain.Proxy
	byStatus   map[domain.Status]map[string]struct{}
	byCountry  map[string]map[string]struct{}
	byProtocol map[domain.Protocol]map[string]struct{}
	endpoints  map[string]string

	store Store
}

func New(store Store) *Registry {
	return &Registry{
		proxies:    make(map[string]*domain.Proxy),
		byStatus:   make(map[domain.Status]map[string]struct{}),
		byCountry:  make(map[string]map[string]struct{}),
		byProtocol: make(map[domain.Protocol]map[string]struct{}),
		endpoints:  make(map[string]string),
		store:      store,
	}
}

func endpointKey(proxy *domain.Proxy) string {
	return fmt.Sprintf("%s/%s", proxy.Protocol, proxy.Endpoint())
}

// Hydrate loads the last known fleet from the durable store, typically at
// startup. In-memory state wins on conflict.
func (r *Registry) Hydrate() error {
	if r.store == nil {
		return nil
	}

	proxies, err := r.store.LoadAll()
	if err != nil {
		return fmt.Errorf("hydrate registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, proxy := range proxies {
		if _, exists := r.proxies[proxy.ID]; exists {
			continue
		}
		r.insertLocked(proxy)
		loaded++
	}

	log.Info("registry hydrated from store", "loaded", loaded)
	return nil
}

// Add validates and registers a new proxy. The durable write happens inline
// with bounded retries because Add is an administrative operation and may
// surface storage failures.
func (r *Registry) Add(proxy *domain.Proxy) (string, error) {
	if proxy == nil {
		return "", errors.New("proxy must not be nil")
	}
	if err := proxy.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	if existing, ok := r.endpoints[endpointKey(proxy)]; ok {
		r.mu.Unlock()
		return existing, fmt.Errorf("%w: %s", ErrDuplicate, proxy.Endpoint())
	}
	r.insertLocked(proxy.Clone())
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveProxy(proxy); err != nil {
			return proxy.ID, fmt.Errorf("persist proxy %s: %w", proxy.ID, err)
		}
	}

	return proxy.ID, nil
}

func (r *Registry) insertLocked(proxy *domain.Proxy) {
	r.proxies[proxy.ID] = proxy
	r.endpoints[endpointKey(proxy)] = proxy.ID
	indexAdd(r.byStatus, proxy.Status, proxy.ID)
	indexAdd(r.byProtocol, proxy.Protocol, proxy.ID)
	if proxy.Country != "" {
		indexAdd(r.byCountry, strings.ToUpper(proxy.Country), proxy.ID)
	}
}

// Remove deletes a proxy from the fleet. Unknown ids return ErrNotFound so
// the facade can decide whether that matters.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	proxy, ok := r.proxies[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.proxies, id)
	delete(r.endpoints, endpointKey(proxy))
	indexRemove(r.byStatus, proxy.Status, id)
	indexRemove(r.byProtocol, proxy.Protocol, id)
	if proxy.Country != "" {
		indexRemove(r.byCountry, strings.ToUpper(proxy.Country), id)
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteProxy(id); err != nil {
			return fmt.Errorf("delete proxy %s from store: %w", id, err)
		}
	}

	return nil
}

// Get returns a copy of the proxy, safe for the caller to keep.
func (r *Registry) Get(id string) (*domain.Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	proxy, ok := r.proxies[id]
	if !ok {
		return nil, false
	}
	return proxy.Clone(), true
}

// Find returns copies of proxies matching the filter, ordered by id for
// stable pagination. Status and country filters are resolved through indexes.
func (r *Registry) Find(filter Filter, limit, offset int) []*domain.Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.candidateIDsLocked(filter)

	matched := make([]*domain.Proxy, 0, len(ids))
	for _, id := range ids {
		proxy := r.proxies[id]
		if proxy == nil || !matchesFilter(proxy, filter) {
			continue
		}
		matched = append(matched, proxy)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	result := make([]*domain.Proxy, len(matched))
	for i, proxy := range matched {
		result[i] = proxy.Clone()
	}
	return result
}

// candidateIDsLocked picks the smallest applicable index to scan.
func (r *Registry) candidateIDsLocked(filter Filter) []string {
	var smallest map[string]struct{}

	if filter.Status != "" {
		smallest = r.byStatus[filter.Status]
	}
	if filter.Country != "" {
		byCountry := r.byCountry[strings.ToUpper(filter.Country)]
		if smallest == nil || len(byCountry) < len(smallest) {
			smallest = byCountry
		}
	}
	if filter.Protocol != "" {
		byProtocol := r.byProtocol[filter.Protocol]
		if smallest == nil || len(byProtocol) < len(smallest) {
			smallest = byProtocol
		}
	}

	if smallest == nil {
		ids := make([]string, 0, len(r.proxies))
		for id := range r.proxies {
			ids = append(ids, id)
		}
		return ids
	}

	ids := make([]string, 0, len(smallest))
	for id := range smallest {
		ids = append(ids, id)
	}
	return ids
}

func matchesFilter(proxy *domain.Proxy, filter Filter) bool {
	if filter.Status != "" && proxy.Status != filter.Status {
		return false
	}
	if filter.Country != "" && !strings.EqualFold(proxy.Country, filter.Country) {
		return false
	}
	if filter.Protocol != "" && proxy.Protocol != filter.Protocol {
		return false
	}
	for _, tag := range filter.Tags {
		if !proxy.HasTag(tag) {
			return false
		}
	}
	return true
}

// UpdateStatus moves a proxy to a new status and reindexes it, returning the
// previous status. The durable write is asynchronous: status churn comes from
// the health path and must never block on storage.
func (r *Registry) UpdateStatus(id string, status domain.Status) (domain.Status, error) {
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status %q", status)
	}

	r.mu.Lock()
	proxy, ok := r.proxies[id]
	if !ok {
		r.mu.Unlock()
		return "", ErrNotFound
	}

	previous := proxy.Status
	if previous == status {
		r.mu.Unlock()
		return previous, nil
	}

	indexRemove(r.byStatus, previous, id)
	proxy.Status = status
	indexAdd(r.byStatus, status, id)
	r.mu.Unlock()

	if r.store != nil {
		go func() {
			if err := r.store.UpdateStatus(id, status); err != nil {
				log.Error("persist status change", "proxy_id", id, "status", status, "error", err)
			}
		}()
	}

	return previous, nil
}

// CountByStatus returns fleet totals per lifecycle status.
func (r *Registry) CountByStatus() map[domain.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.Status]int, len(r.byStatus))
	for status, ids := range r.byStatus {
		counts[status] = len(ids)
	}
	return counts
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}

func indexAdd[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[string]struct{})
		index[key] = bucket
	}
	bucket[id] = struct{}{}
}

func indexRemove[K comparable](index map[K]map[string]struct{}, key K, id string) {
	if bucket, ok := index[key]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(index, key)
		}
	}
}
