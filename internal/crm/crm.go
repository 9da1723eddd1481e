// Package crm runs the HubSpot fetch workflow: referred contacts, their deal
// associations, the deals themselves, the pipeline enumeration and the owner
// directory. Every step is cached so a re-run only refetches what was asked.
package crm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coach-cli/pkg/hubspot"
)

// Cache keys of the fetch steps.
const (
	KeyContacts     = "hubspot:contacts"
	KeyAssociations = "hubspot:associations"
	KeyDeals        = "hubspot:deals"
	KeyPipelines    = "hubspot:pipelines"
	KeyOwners       = "hubspot:owners"
)

// Cache stores serialized fetch results. GetCache returns nil, nil on a miss.
type Cache interface {
	GetCache(ctx context.Context, key string) ([]byte, error)
	SetCache(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Refresh selects which steps bypass the cache. The flags are independent:
// refreshing contacts alone reuses cached associations and deals.
type Refresh struct {
	Contacts     bool
	Associations bool
	Deals        bool
	Pipelines    bool
	Owners       bool
}

// RefreshModes lists the values accepted by ParseRefresh.
var RefreshModes = []string{"none", "all", "contacts", "associations", "deals", "pipelines", "owners"}

// ParseRefresh parses a --refresh value.
func ParseRefresh(s string) (Refresh, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return Refresh{}, nil
	case "all":
		return Refresh{Contacts: true, Associations: true, Deals: true, Pipelines: true, Owners: true}, nil
	case "contacts":
		return Refresh{Contacts: true}, nil
	case "associations":
		return Refresh{Associations: true}, nil
	case "deals":
		return Refresh{Deals: true}, nil
	case "pipelines":
		return Refresh{Pipelines: true}, nil
	case "owners":
		return Refresh{Owners: true}, nil
	}
	return Refresh{}, eris.Errorf("crm: unknown refresh mode %q (want one of %s)", s, strings.Join(RefreshModes, ", "))
}

// Config configures the workflow.
type Config struct {
	// ContactProperty and ContactValue select the referred contacts.
	ContactProperty string
	ContactValue    string
	// Concurrency bounds parallel association lookups.
	Concurrency int
	// CacheTTL is how long fetched data stays valid.
	CacheTTL time.Duration
}

// DefaultConfig returns the production contact filter.
func DefaultConfig() Config {
	return Config{
		ContactProperty: "aangebracht_door",
		ContactValue:    "Nationale Apotheek",
		Concurrency:     4,
		CacheTTL:        7 * 24 * time.Hour,
	}
}

// Snapshot is the raw CRM data one run is computed from.
type Snapshot struct {
	Contacts  []hubspot.Object    `json:"contacts"`
	Links     map[string][]string `json:"links"`
	DealIDs   []string            `json:"deal_ids"`
	Deals     []hubspot.Object    `json:"deals"`
	Pipelines []hubspot.Pipeline  `json:"pipelines"`
	Owners    []hubspot.Owner     `json:"owners"`
}

// Workflow fetches a Snapshot through a cache.
type Workflow struct {
	client hubspot.Client
	cache  Cache
	cfg    Config
	log    *zap.Logger
}

// NewWorkflow creates a Workflow. A nil cache disables caching.
func NewWorkflow(client hubspot.Client, cache Cache, cfg Config) *Workflow {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ContactProperty == "" {
		cfg.ContactProperty = DefaultConfig().ContactProperty
	}
	return &Workflow{
		client: client,
		cache:  cache,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "crm")),
	}
}

// Fetch runs every step, honouring refresh. It fails when no contacts, no
// associated deals or no deal records are found.
func (w *Workflow) Fetch(ctx context.Context, refresh Refresh) (*Snapshot, error) {
	w.log.Info("fetching crm data",
		zap.Bool("refresh_contacts", refresh.Contacts),
		zap.Bool("refresh_associations", refresh.Associations),
		zap.Bool("refresh_deals", refresh.Deals),
	)

	contacts, err := w.Contacts(ctx, refresh.Contacts)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, eris.Errorf("crm: 0 contacts found with %s=%q", w.cfg.ContactProperty, w.cfg.ContactValue)
	}

	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	links, err := w.Associations(ctx, ids, refresh.Associations)
	if err != nil {
		return nil, err
	}
	dealIDs := UniqueDealIDs(links)
	if len(dealIDs) == 0 {
		return nil, eris.New("crm: 0 associated deals found for contacts")
	}

	deals, err := w.Deals(ctx, dealIDs, refresh.Deals)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return nil, eris.New("crm: 0 deals fetched (batch read)")
	}

	pipelines, err := w.Pipelines(ctx, refresh.Pipelines)
	if err != nil {
		return nil, err
	}
	owners, err := w.Owners(ctx, refresh.Owners)
	if err != nil {
		return nil, err
	}

	w.log.Info("crm fetch complete",
		zap.Int("contacts", len(contacts)),
		zap.Int("unique_deals", len(dealIDs)),
		zap.Int("deals", len(deals)),
		zap.Int("pipelines", len(pipelines)),
		zap.Int("owners", len(owners)),
	)
	return &Snapshot{
		Contacts:  contacts,
		Links:     links,
		DealIDs:   dealIDs,
		Deals:     deals,
		Pipelines: pipelines,
		Owners:    owners,
	}, nil
}

// Contacts returns the referred contacts.
func (w *Workflow) Contacts(ctx context.Context, refresh bool) ([]hubspot.Object, error) {
	return cached(ctx, w, KeyContacts+":"+w.cfg.ContactProperty+"="+w.cfg.ContactValue, refresh, func() ([]hubspot.Object, error) {
		return w.client.SearchContacts(ctx, w.cfg.ContactProperty, w.cfg.ContactValue, hubspot.ContactProperties)
	})
}

// Associations maps each contact id to its sorted, de-duplicated deal ids.
func (w *Workflow) Associations(ctx context.Context, contactIDs []string, refresh bool) (map[string][]string, error) {
	return cached(ctx, w, KeyAssociations, refresh, func() (map[string][]string, error) {
		return w.fetchAssociations(ctx, contactIDs)
	})
}

func (w *Workflow) fetchAssociations(ctx context.Context, contactIDs []string) (map[string][]string, error) {
	w.log.Info("fetching associations", zap.Int("contacts", len(contactIDs)))

	var (
		mu    sync.Mutex
		links = make(map[string][]string, len(contactIDs))
		done  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, id := range contactIDs {
		g.Go(func() error {
			ids, err := w.client.DealIDsForContact(gctx, id)
			if err != nil {
				return err
			}
			ids = dedupe(ids)

			mu.Lock()
			defer mu.Unlock()
			links[id] = ids
			done++
			if done%50 == 0 {
				w.log.Info("associations progress", zap.Int("done", done), zap.Int("total", len(contactIDs)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "crm: fetch associations")
	}
	return links, nil
}

// Deals batch-reads the given deals.
func (w *Workflow) Deals(ctx context.Context, dealIDs []string, refresh bool) ([]hubspot.Object, error) {
	return cached(ctx, w, KeyDeals, refresh, func() ([]hubspot.Object, error) {
		w.log.Info("fetching deals", zap.Int("deals", len(dealIDs)))
		return w.client.BatchReadDeals(ctx, dealIDs, hubspot.DealProperties)
	})
}

// Pipelines returns the deal pipelines with their stages.
func (w *Workflow) Pipelines(ctx context.Context, refresh bool) ([]hubspot.Pipeline, error) {
	return cached(ctx, w, KeyPipelines, refresh, func() ([]hubspot.Pipeline, error) {
		return w.client.DealPipelines(ctx)
	})
}

// Owners returns the owner directory.
func (w *Workflow) Owners(ctx context.Context, refresh bool) ([]hubspot.Owner, error) {
	return cached(ctx, w, KeyOwners, refresh, func() ([]hubspot.Owner, error) {
		return w.client.Owners(ctx)
	})
}

// UniqueDealIDs flattens association links into sorted unique deal ids.
func UniqueDealIDs(links map[string][]string) []string {
	var all []string
	for _, ids := range links {
		all = append(all, ids...)
	}
	return dedupe(all)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// cached returns the cached value under key unless refresh is set or the
// entry is missing or undecodable, in which case fetch runs and its result
// is stored. Cache failures are logged and never fail the step.
func cached[T any](ctx context.Context, w *Workflow, key string, refresh bool, fetch func() (T, error)) (T, error) {
	var zero T
	if w.cache != nil && !refresh {
		data, err := w.cache.GetCache(ctx, key)
		if err != nil {
			w.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		} else if data != nil {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				w.log.Info("using cached data", zap.String("key", key))
				return v, nil
			}
			w.log.Warn("cache entry unreadable, refetching", zap.String("key", key))
		}
	}

	v, err := fetch()
	if err != nil {
		return zero, eris.Wrapf(err, "crm: fetch %s", key)
	}

	if w.cache != nil {
		data, err := json.Marshal(v)
		if err == nil {
			err = w.cache.SetCache(ctx, key, data, w.cfg.CacheTTL)
		}
		if err != nil {
			w.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}
