package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/swarm/internal/store"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrVersionConflict indicates a shared-tier write lost the
	// compare-and-swap race. Callers should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidTier indicates an unknown memory tier.
	ErrInvalidTier = errors.New("invalid memory tier")
)

// Config sets per-tier capacities and TTLs.
type Config struct {
	// Capacity is the per-agent record cap for each tier. The shared
	// tier's cap is global.
	Capacity map[models.MemoryTier]int
	// TTL is the default expiry per tier; zero means no expiry.
	TTL map[models.MemoryTier]time.Duration
}

// DefaultConfig returns the tier defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: map[models.MemoryTier]int{
			models.TierWorking:   50,
			models.TierShortTerm: 200,
			models.TierLongTerm:  1000,
			models.TierShared:    500,
		},
		TTL: map[models.MemoryTier]time.Duration{
			models.TierWorking:   15 * time.Minute,
			models.TierShortTerm: 2 * time.Hour,
			models.TierLongTerm:  0,
			models.TierShared:    24 * time.Hour,
		},
	}
}

// QuotaProvider reports an agent's MaxMemoryEntries limit. The agent
// registry implements it; zero means no per-agent cap beyond the tier
// capacity.
type QuotaProvider interface {
	MemoryQuota(agentID string) int
}

// entryKey addresses a record within a tier.
type entryKey struct {
	category string
	key      string
}

// tierMap holds one agent's records for one tier, or the global shared
// tier.
type tierMap map[entryKey]*models.MemoryRecord

// Manager is the tiered memory store. Per-agent tiers (working,
// short-term, long-term) are partitioned by agent; the shared tier is a
// single version-arbitrated space. All state is held in memory and
// written through to the store for durability.
type Manager struct {
	db  *store.DB
	cfg Config

	quota QuotaProvider

	mu     sync.RWMutex
	agents map[string]map[models.MemoryTier]tierMap
	shared tierMap
}

// NewManager creates a memory manager. db may be nil in tests.
func NewManager(db *store.DB, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Capacity == nil {
		cfg.Capacity = def.Capacity
	}
	if cfg.TTL == nil {
		cfg.TTL = def.TTL
	}
	for tier, c := range def.Capacity {
		if cfg.Capacity[tier] <= 0 {
			cfg.Capacity[tier] = c
		}
	}
	return &Manager{
		db:     db,
		cfg:    cfg,
		agents: make(map[string]map[models.MemoryTier]tierMap),
		shared: make(tierMap),
	}
}

// SetQuotaProvider wires per-agent working-tier caps from the agent
// registry.
func (m *Manager) SetQuotaProvider(p QuotaProvider) { m.quota = p }

// Load rehydrates in-memory state from the store.
func (m *Manager) Load() error {
	if m.db == nil {
		return nil
	}
	records, err := m.db.ListAllMemory()
	if err != nil {
		return fmt.Errorf("load memory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		k := entryKey{category: r.Category, key: r.Key}
		if r.Tier == models.TierShared {
			m.shared[k] = r
			continue
		}
		m.tierLocked(r.AgentID, r.Tier)[k] = r
	}
	return nil
}

// tierLocked returns (creating if needed) an agent's tier map. Caller
// holds mu.
func (m *Manager) tierLocked(agentID string, tier models.MemoryTier) tierMap {
	tiers, ok := m.agents[agentID]
	if !ok {
		tiers = make(map[models.MemoryTier]tierMap)
		m.agents[agentID] = tiers
	}
	tm, ok := tiers[tier]
	if !ok {
		tm = make(tierMap)
		tiers[tier] = tm
	}
	return tm
}

// Store writes a record into one of an agent's private tiers. ttl of
// zero applies the tier default. Writing an existing category/key pair
// replaces the value. Shared-tier writes must go through StoreShared.
func (m *Manager) Store(agentID string, tier models.MemoryTier, category, key string, value json.RawMessage, importance float64, ttl time.Duration) (*models.MemoryRecord, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if tier == models.TierShared {
		return nil, fmt.Errorf("%w: shared tier requires versioned write", ErrInvalidTier)
	}
	if ttl == 0 {
		ttl = m.cfg.TTL[tier]
	}

	now := time.Now().UTC()
	rec := &models.MemoryRecord{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Tier:         tier,
		Category:     category,
		Key:          key,
		Value:        value,
		Importance:   clamp01(importance),
		LastAccessed: now,
		Version:      1,
		CreatedAt:    now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	tm := m.tierLocked(agentID, tier)
	k := entryKey{category: category, key: key}
	if prev, ok := tm[k]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
		rec.AccessCount = prev.AccessCount
		rec.Version = prev.Version + 1
	}
	tm[k] = rec
	evicted := m.enforceCapacityLocked(agentID, tier)
	m.mu.Unlock()

	m.persist(rec)
	m.applyEvictions(evicted)
	return rec, nil
}

// StoreShared writes to the shared tier with compare-and-swap
// arbitration: expectedVersion must match the current record's version
// (0 for a fresh key) or ErrVersionConflict is returned.
func (m *Manager) StoreShared(agentID, category, key string, value json.RawMessage, importance float64, expectedVersion int) (*models.MemoryRecord, error) {
	now := time.Now().UTC()
	k := entryKey{category: category, key: key}

	m.mu.Lock()
	current := m.shared[k]
	currentVersion := 0
	if current != nil {
		currentVersion = current.Version
	}
	if expectedVersion != currentVersion {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s at version %d, expected %d",
			ErrVersionConflict, category, key, currentVersion, expectedVersion)
	}

	rec := &models.MemoryRecord{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Tier:         models.TierShared,
		Category:     category,
		Key:          key,
		Value:        value,
		Importance:   clamp01(importance),
		LastAccessed: now,
		Version:      currentVersion + 1,
		CreatedAt:    now,
	}
	if current != nil {
		rec.ID = current.ID
		rec.CreatedAt = current.CreatedAt
		rec.AccessCount = current.AccessCount
	}
	if ttl := m.cfg.TTL[models.TierShared]; ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	m.shared[k] = rec
	evicted := m.enforceSharedCapacityLocked()
	m.mu.Unlock()

	m.persist(rec)
	m.applyEvictions(evicted)
	return rec, nil
}

// UpdateShared performs a read-modify-write on a shared record,
// retrying the compare-and-swap up to three times with backoff. The
// update func receives the current value (nil for a fresh key) and
// returns the replacement.
func (m *Manager) UpdateShared(agentID, category, key string, importance float64, update func(current json.RawMessage) (json.RawMessage, error)) (*models.MemoryRecord, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		m.mu.RLock()
		current := m.shared[entryKey{category: category, key: key}]
		var value json.RawMessage
		version := 0
		if current != nil {
			value = current.Value
			version = current.Version
		}
		m.mu.RUnlock()

		next, err := update(value)
		if err != nil {
			return nil, err
		}

		rec, err := m.StoreShared(agentID, category, key, next, importance, version)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return nil, lastErr
}

// Retrieve looks a key up through the tier hierarchy: working first,
// then short-term, long-term, and shared. A hit outside working is
// promoted into the reader's working tier. Returns nil on a miss.
func (m *Manager) Retrieve(agentID, category, key string) (*models.MemoryRecord, error) {
	now := time.Now().UTC()
	k := entryKey{category: category, key: key}

	m.mu.Lock()
	var hit *models.MemoryRecord
	for _, tier := range models.RetrievalOrder {
		var tm tierMap
		if tier == models.TierShared {
			tm = m.shared
		} else {
			tiers := m.agents[agentID]
			if tiers == nil {
				continue
			}
			tm = tiers[tier]
		}
		rec, ok := tm[k]
		if !ok || rec.Expired(now) {
			continue
		}
		hit = rec
		break
	}
	if hit == nil {
		m.mu.Unlock()
		return nil, nil
	}

	hit.AccessCount++
	hit.LastAccessed = now

	var promoted *models.MemoryRecord
	var evicted []*models.MemoryRecord
	if hit.Tier != models.TierWorking {
		promoted = &models.MemoryRecord{
			ID:           uuid.NewString(),
			AgentID:      agentID,
			Tier:         models.TierWorking,
			Category:     category,
			Key:          key,
			Value:        hit.Value,
			Importance:   hit.Importance,
			AccessCount:  1,
			LastAccessed: now,
			Version:      1,
			CreatedAt:    now,
		}
		if ttl := m.cfg.TTL[models.TierWorking]; ttl > 0 {
			promoted.ExpiresAt = now.Add(ttl)
		}
		m.tierLocked(agentID, models.TierWorking)[k] = promoted
		evicted = m.enforceCapacityLocked(agentID, models.TierWorking)
	}
	m.mu.Unlock()

	m.persist(hit)
	if promoted != nil {
		m.persist(promoted)
	}
	m.applyEvictions(evicted)
	return hit, nil
}

// List returns an agent's records in one tier, most recently accessed
// first. For the shared tier it returns the global space.
func (m *Manager) List(agentID string, tier models.MemoryTier) ([]*models.MemoryRecord, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	m.mu.RLock()
	var tm tierMap
	if tier == models.TierShared {
		tm = m.shared
	} else if tiers := m.agents[agentID]; tiers != nil {
		tm = tiers[tier]
	}
	out := make([]*models.MemoryRecord, 0, len(tm))
	for _, rec := range tm {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out, nil
}

// Forget removes a record from a tier.
func (m *Manager) Forget(agentID string, tier models.MemoryTier, category, key string) error {
	k := entryKey{category: category, key: key}

	m.mu.Lock()
	var rec *models.MemoryRecord
	if tier == models.TierShared {
		rec = m.shared[k]
		delete(m.shared, k)
	} else if tiers := m.agents[agentID]; tiers != nil {
		if tm := tiers[tier]; tm != nil {
			rec = tm[k]
			delete(tm, k)
		}
	}
	m.mu.Unlock()

	if rec != nil && m.db != nil {
		if err := m.db.DeleteMemory(rec.ID); err != nil {
			return fmt.Errorf("forget %s: %w", rec.ID, err)
		}
	}
	return nil
}

// DropAgent discards all private-tier memory for an agent. Shared-tier
// records the agent wrote survive.
func (m *Manager) DropAgent(agentID string) {
	m.mu.Lock()
	tiers := m.agents[agentID]
	delete(m.agents, agentID)
	m.mu.Unlock()

	if m.db == nil {
		return
	}
	for _, tm := range tiers {
		for _, rec := range tm {
			if err := m.db.DeleteMemory(rec.ID); err != nil {
				log.Printf("[memory] drop agent %s: %v", agentID, err)
			}
		}
	}
}

// Cleanup removes expired records and re-enforces tier capacities.
// Returns the number of records removed or demoted.
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	var expired []*models.MemoryRecord
	for _, tiers := range m.agents {
		for _, tm := range tiers {
			for k, rec := range tm {
				if rec.Expired(now) {
					delete(tm, k)
					expired = append(expired, rec)
				}
			}
		}
	}
	for k, rec := range m.shared {
		if rec.Expired(now) {
			delete(m.shared, k)
			expired = append(expired, rec)
		}
	}

	var evicted []*models.MemoryRecord
	for agentID, tiers := range m.agents {
		for tier := range tiers {
			evicted = append(evicted, m.enforceCapacityLocked(agentID, tier)...)
		}
	}
	evicted = append(evicted, m.enforceSharedCapacityLocked()...)
	m.mu.Unlock()

	if m.db != nil {
		for _, rec := range expired {
			if err := m.db.DeleteMemory(rec.ID); err != nil {
				log.Printf("[memory] cleanup delete %s: %v", rec.ID, err)
			}
		}
	}
	m.applyEvictions(evicted)
	return len(expired) + len(evicted)
}

// Counts reports per-tier record counts for an agent.
func (m *Manager) Counts(agentID string) map[models.MemoryTier]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.MemoryTier]int, 4)
	if tiers := m.agents[agentID]; tiers != nil {
		for tier, tm := range tiers {
			out[tier] = len(tm)
		}
	}
	out[models.TierShared] = len(m.shared)
	return out
}

// enforceCapacityLocked evicts from an over-capacity tier using
// importance-weighted LRU: the least important records go first, oldest
// access breaking ties. Working-tier evictions demote to short-term;
// short-term records important enough (>= 0.7) demote to long-term,
// the rest are dropped. Caller holds mu; returned records still need
// persistence applied outside the lock.
func (m *Manager) enforceCapacityLocked(agentID string, tier models.MemoryTier) []*models.MemoryRecord {
	tm := m.agents[agentID][tier]
	capacity := m.cfg.Capacity[tier]
	if tier == models.TierWorking {
		capacity = m.workingCap(agentID)
	}
	if len(tm) <= capacity {
		return nil
	}

	victims := selectVictims(tm, len(tm)-capacity)
	var changed []*models.MemoryRecord
	for _, rec := range victims {
		delete(tm, entryKey{category: rec.Category, key: rec.Key})
		switch {
		case tier == models.TierWorking:
			rec.Tier = models.TierShortTerm
			if ttl := m.cfg.TTL[models.TierShortTerm]; ttl > 0 {
				rec.ExpiresAt = time.Now().UTC().Add(ttl)
			}
			m.tierLocked(agentID, models.TierShortTerm)[entryKey{category: rec.Category, key: rec.Key}] = rec
			changed = append(changed, rec)
		case tier == models.TierShortTerm && rec.Importance >= 0.7:
			rec.Tier = models.TierLongTerm
			rec.ExpiresAt = time.Time{}
			m.tierLocked(agentID, models.TierLongTerm)[entryKey{category: rec.Category, key: rec.Key}] = rec
			changed = append(changed, rec)
		default:
			rec.Tier = "" // marks deletion for applyEvictions
			changed = append(changed, rec)
		}
	}
	return changed
}

// workingCap returns the effective working-tier capacity for an agent:
// the tier capacity, tightened by the agent's MaxMemoryEntries limit
// when a quota provider is wired.
func (m *Manager) workingCap(agentID string) int {
	capacity := m.cfg.Capacity[models.TierWorking]
	if m.quota == nil {
		return capacity
	}
	if q := m.quota.MemoryQuota(agentID); q > 0 && q < capacity {
		return q
	}
	return capacity
}

func (m *Manager) enforceSharedCapacityLocked() []*models.MemoryRecord {
	capacity := m.cfg.Capacity[models.TierShared]
	if len(m.shared) <= capacity {
		return nil
	}
	victims := selectVictims(m.shared, len(m.shared)-capacity)
	for _, rec := range victims {
		delete(m.shared, entryKey{category: rec.Category, key: rec.Key})
		rec.Tier = ""
	}
	return victims
}

// selectVictims picks n eviction candidates: lowest importance first,
// then least recently accessed.
func selectVictims(tm tierMap, n int) []*models.MemoryRecord {
	candidates := make([]*models.MemoryRecord, 0, len(tm))
	for _, rec := range tm {
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance < candidates[j].Importance
		}
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// applyEvictions persists demotions and deletions decided under the lock.
func (m *Manager) applyEvictions(changed []*models.MemoryRecord) {
	if m.db == nil {
		return
	}
	for _, rec := range changed {
		if rec.Tier == "" {
			if err := m.db.DeleteMemory(rec.ID); err != nil {
				log.Printf("[memory] evict %s: %v", rec.ID, err)
			}
			continue
		}
		m.persist(rec)
	}
}

func (m *Manager) persist(rec *models.MemoryRecord) {
	if m.db == nil {
		return
	}
	if err := m.db.PutMemory(rec); err != nil {
		log.Printf("[memory] persist %s: %v", rec.ID, err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
