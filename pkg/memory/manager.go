// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/observability"
)

// Manager owns all memory mutation. Callers never touch the Store
// directly: tier rules (retention, caps, conflict resolution, preference
// upserts, consolidation) live here, along with the background maintenance
// loops.
type Manager struct {
	cfg      config.MemoryConfig
	store    Store
	index    *VectorIndex
	observer observability.Observer
	logger   *slog.Logger

	activeMu    sync.Mutex
	activeUsers map[string]time.Time

	maintenance *maintenance
	closeOnce   sync.Once
	closeErr    error
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithObserver routes memory lifecycle events to o.
func WithObserver(o observability.Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithVectorIndex attaches an embedding index for long-term recall. The
// manager takes ownership and closes it.
func WithVectorIndex(ix *VectorIndex) ManagerOption {
	return func(m *Manager) { m.index = ix }
}

// NewManager builds a manager over store. Call Start to begin background
// maintenance and Close to stop it and release the store.
func NewManager(cfg *config.MemoryConfig, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         *cfg,
		store:       store,
		observer:    observability.NopObserver{},
		logger:      slog.Default(),
		activeUsers: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.maintenance = newMaintenance(m)
	return m
}

// AddShortTerm stores a session-scoped memory with an expiry, then trims
// the (user, session) tier back under its cap, oldest first.
func (m *Manager) AddShortTerm(ctx context.Context, mem *Memory) (*Memory, error) {
	if mem.UserID == "" || mem.Content == "" {
		return nil, fmt.Errorf("short-term memory requires userId and content")
	}
	entry := mem.Clone()
	entry.Tier = TierShortTerm
	if entry.Type == "" {
		entry.Type = KindConversation
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = timeNow()
	}
	expires := entry.CreatedAt.Add(m.cfg.ShortTermRetention)
	entry.ExpiresAt = &expires

	id, err := m.store.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id
	m.observer.MemoryInserted(ctx, id, string(TierShortTerm), entry.UserID)
	m.markActive(entry.UserID)

	if err := m.trimShortTerm(ctx, entry.UserID, entry.SessionID); err != nil {
		return nil, err
	}
	return m.store.FindByID(ctx, id)
}

// trimShortTerm deletes the oldest entries of one (user, session) scope
// until the cap holds again.
func (m *Manager) trimShortTerm(ctx context.Context, userID, sessionID string) error {
	preds := []Predicate{
		Equals(FieldUserID, userID),
		Equals(FieldSessionID, sessionID),
		Equals(FieldTier, TierShortTerm),
	}
	count, err := m.store.Count(ctx, preds...)
	if err != nil {
		return err
	}
	excess := count - m.cfg.MaxShortTerm
	if excess <= 0 {
		return nil
	}
	oldest, err := m.store.Query(ctx, NewQuery(preds...).SortBy(FieldCreatedAt, false).Page(excess, 0))
	if err != nil {
		return err
	}
	for _, old := range oldest {
		if err := m.remove(ctx, old.ID); err != nil {
			return err
		}
	}
	return nil
}

// AddLongTerm stores a persistent memory after conflict resolution:
// an existing memory of the same user, type and category that agrees on
// the leading 50 characters and exceeds the similarity threshold absorbs
// the new content instead of a second entry being created.
func (m *Manager) AddLongTerm(ctx context.Context, mem *Memory) (*Memory, error) {
	if mem.UserID == "" || mem.Content == "" {
		return nil, fmt.Errorf("long-term memory requires userId and content")
	}
	entry := mem.Clone()
	entry.Tier = TierLongTerm
	entry.ExpiresAt = nil
	if entry.Type == "" {
		entry.Type = KindFact
	}

	candidates, err := m.store.Query(ctx, NewQuery(
		Equals(FieldUserID, entry.UserID),
		Equals(FieldTier, TierLongTerm),
		Equals(FieldType, entry.Type),
		Equals(FieldCategory, entry.Category),
	))
	if err != nil {
		return nil, err
	}
	for _, existing := range candidates {
		if !sharesPrefix(existing.Content, entry.Content, 50) {
			continue
		}
		if jaccardSimilarity(existing.Content, entry.Content) < m.cfg.MergeSimilarityThreshold {
			continue
		}
		fields := map[Field]any{
			FieldContent:    mergeContents(existing.Content, entry.Content),
			FieldImportance: maxFloat(existing.Importance, entry.Importance),
			FieldConfidence: maxFloat(existing.Confidence, entry.Confidence),
		}
		if _, err := m.store.Update(ctx, existing.ID, fields); err != nil {
			return nil, err
		}
		m.logger.Debug("merged long-term memory",
			"id", existing.ID, "user_id", entry.UserID, "category", entry.Category)
		m.observer.MemoryUpdated(ctx, existing.ID)
		merged, err := m.store.FindByID(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		m.indexMemory(ctx, merged)
		return merged, nil
	}

	id, err := m.store.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	entry.ID = id
	m.observer.MemoryInserted(ctx, id, string(TierLongTerm), entry.UserID)
	m.indexMemory(ctx, entry)

	if err := m.trimLongTerm(ctx, entry.UserID); err != nil {
		return nil, err
	}
	return m.store.FindByID(ctx, id)
}

// trimLongTerm evicts the user's lowest-importance entries until the cap
// holds again.
func (m *Manager) trimLongTerm(ctx context.Context, userID string) error {
	preds := []Predicate{
		Equals(FieldUserID, userID),
		Equals(FieldTier, TierLongTerm),
	}
	count, err := m.store.Count(ctx, preds...)
	if err != nil {
		return err
	}
	excess := count - m.cfg.MaxLongTerm
	if excess <= 0 {
		return nil
	}
	victims, err := m.store.Query(ctx, NewQuery(preds...).SortBy(FieldImportance, false).Page(excess, 0))
	if err != nil {
		return err
	}
	for _, v := range victims {
		if err := m.remove(ctx, v.ID); err != nil {
			return err
		}
	}
	return nil
}

// Preference is the input to AddUserPreference. Key identifies the
// preference within its category; when empty, the full content doubles as
// the key for compatibility with content-substring matching.
type Preference struct {
	UserID     string
	Category   string
	Key        string
	Content    string
	Importance float64
	Confidence float64
}

// AddUserPreference upserts a preference by (user, category, key). An
// incoming preference at or above the update threshold replaces the
// stored content; below it, the content is appended on a new line.
// Re-applying an identical preference only refreshes the scores.
func (m *Manager) AddUserPreference(ctx context.Context, p Preference) (*Memory, error) {
	if p.UserID == "" || p.Content == "" {
		return nil, fmt.Errorf("preference requires userId and content")
	}
	key := p.Key
	if key == "" {
		key = p.Content
	}

	existing, err := m.store.Query(ctx, NewQuery(
		Equals(FieldUserID, p.UserID),
		Equals(FieldTier, TierUserPreference),
		Equals(FieldCategory, p.Category),
		ContainsText(FieldContent, key),
	).Page(1, 0))
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		current := existing[0]
		fields := map[Field]any{
			FieldImportance: maxFloat(current.Importance, p.Importance),
			FieldConfidence: maxFloat(current.Confidence, p.Confidence),
		}
		switch {
		case current.Content == p.Content:
			// Identical restatement: scores only.
		case p.Confidence >= m.cfg.PreferenceUpdateThreshold:
			fields[FieldContent] = p.Content
		default:
			fields[FieldContent] = current.Content + "\n" + p.Content
		}
		if _, err := m.store.Update(ctx, current.ID, fields); err != nil {
			return nil, err
		}
		m.observer.MemoryUpdated(ctx, current.ID)
		return m.store.FindByID(ctx, current.ID)
	}

	entry := &Memory{
		Content:    p.Content,
		Type:       KindPreference,
		Category:   p.Category,
		Importance: p.Importance,
		Confidence: p.Confidence,
		UserID:     p.UserID,
		Tier:       TierUserPreference,
	}
	id, err := m.store.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}
	m.observer.MemoryInserted(ctx, id, string(TierUserPreference), p.UserID)
	return m.store.FindByID(ctx, id)
}

// GetShortTerm returns the session's unexpired short-term memories, newest
// first.
func (m *Manager) GetShortTerm(ctx context.Context, userID, sessionID string, limit int) ([]*Memory, error) {
	q := NewQuery(
		Equals(FieldUserID, userID),
		Equals(FieldSessionID, sessionID),
		Equals(FieldTier, TierShortTerm),
		GreaterThan(FieldExpiresAt, timeNow()),
	).SortBy(FieldCreatedAt, true)
	if limit > 0 {
		q.Page(limit, 0)
	}
	return m.store.Query(ctx, q)
}

// SearchLongTerm finds the user's most relevant long-term memories. With a
// vector index attached it searches by embedding similarity and falls back
// to the lexical scorer when the index fails.
func (m *Manager) SearchLongTerm(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	if m.index != nil {
		ids, err := m.index.Search(ctx, userID, query, limit)
		if err == nil {
			results := make([]*Memory, 0, len(ids))
			for _, id := range ids {
				mem, err := m.store.FindByID(ctx, id)
				if err != nil {
					continue // index may lag behind deletions
				}
				results = append(results, mem)
			}
			return results, nil
		}
		m.logger.Warn("vector search failed, falling back to keyword scoring",
			"user_id", userID, "error", err)
	}
	return m.store.Query(ctx, NewQuery(
		Equals(FieldUserID, userID),
		Equals(FieldTier, TierLongTerm),
	).WithSemantic(query, limit))
}

// GetUserPreferences returns the user's preferences, optionally filtered
// by category.
func (m *Manager) GetUserPreferences(ctx context.Context, userID, category string) ([]*Memory, error) {
	preds := []Predicate{
		Equals(FieldUserID, userID),
		Equals(FieldTier, TierUserPreference),
	}
	if category != "" {
		preds = append(preds, Equals(FieldCategory, category))
	}
	return m.store.Query(ctx, NewQuery(preds...).SortBy(FieldUpdatedAt, true))
}

// SearchOptions bounds each section of a SearchWithContext result.
type SearchOptions struct {
	SessionID       string
	ShortTermLimit  int
	LongTermLimit   int
	PreferenceLimit int
	RelatedLimit    int
}

func (o *SearchOptions) setDefaults() {
	if o.ShortTermLimit == 0 {
		o.ShortTermLimit = 10
	}
	if o.LongTermLimit == 0 {
		o.LongTermLimit = 10
	}
	if o.PreferenceLimit == 0 {
		o.PreferenceLimit = 10
	}
	if o.RelatedLimit == 0 {
		o.RelatedLimit = 10
	}
}

// ContextResults is the combined recall for one query.
type ContextResults struct {
	ShortTerm   []*Memory
	LongTerm    []*Memory
	Preferences []*Memory
	Related     []*Memory
}

// Size returns the total number of memories across all sections.
func (r *ContextResults) Size() int {
	return len(r.ShortTerm) + len(r.LongTerm) + len(r.Preferences) + len(r.Related)
}

// SearchWithContext gathers the three tiers concurrently, then resolves
// the memories referenced by their relationship edges.
func (m *Manager) SearchWithContext(ctx context.Context, query, userID string, opts *SearchOptions) (*ContextResults, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	opts.setDefaults()

	results := &ContextResults{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		results.ShortTerm, err = m.GetShortTerm(gctx, userID, opts.SessionID, opts.ShortTermLimit)
		return err
	})
	g.Go(func() error {
		var err error
		results.LongTerm, err = m.SearchLongTerm(gctx, userID, query, opts.LongTermLimit)
		return err
	})
	g.Go(func() error {
		prefs, err := m.GetUserPreferences(gctx, userID, "")
		if err != nil {
			return err
		}
		if len(prefs) > opts.PreferenceLimit {
			prefs = prefs[:opts.PreferenceLimit]
		}
		results.Preferences = prefs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results.Related = m.resolveRelated(ctx, results, opts.RelatedLimit)
	return results, nil
}

// resolveRelated flattens the relationship edges of the combined results
// and fetches their targets lazily, skipping memories already present.
func (m *Manager) resolveRelated(ctx context.Context, results *ContextResults, limit int) []*Memory {
	seen := make(map[string]bool)
	for _, section := range [][]*Memory{results.ShortTerm, results.LongTerm, results.Preferences} {
		for _, mem := range section {
			seen[mem.ID] = true
		}
	}

	var related []*Memory
	for _, section := range [][]*Memory{results.ShortTerm, results.LongTerm, results.Preferences} {
		for _, mem := range section {
			for _, rel := range mem.Relationships {
				if len(related) >= limit {
					return related
				}
				if seen[rel.TargetID] {
					continue
				}
				seen[rel.TargetID] = true
				target, err := m.store.FindByID(ctx, rel.TargetID)
				if err != nil {
					continue // dangling edge
				}
				related = append(related, target)
			}
		}
	}
	return related
}

// Consolidate promotes the user's important short-term memories to
// long-term storage. Sources are marked consolidated and retained until
// they expire, which makes repeated runs produce nothing new.
func (m *Manager) Consolidate(ctx context.Context, userID string) (int, error) {
	sources, err := m.store.Query(ctx, NewQuery(
		Equals(FieldUserID, userID),
		Equals(FieldTier, TierShortTerm),
		AtLeast(FieldImportance, m.cfg.ConsolidationThreshold),
		Equals(FieldConsolidated, false),
	))
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, src := range sources {
		long := &Memory{
			Content:       src.Content,
			Type:          src.Type,
			Category:      src.Category,
			Tags:          src.Tags,
			Importance:    src.Importance,
			Confidence:    src.Confidence,
			UserID:        src.UserID,
			ExtractedFrom: src.ID,
		}
		if _, err := m.AddLongTerm(ctx, long); err != nil {
			return promoted, fmt.Errorf("consolidating memory %s: %w", src.ID, err)
		}
		if _, err := m.store.Update(ctx, src.ID, map[Field]any{
			FieldConsolidated:   true,
			FieldConsolidatedAt: timeNow(),
		}); err != nil {
			return promoted, err
		}
		promoted++
	}
	if promoted > 0 {
		m.observer.MemoriesConsolidated(ctx, userID, promoted)
		m.logger.Info("consolidated memories", "user_id", userID, "count", promoted)
	}
	return promoted, nil
}

// Cleanup deletes the user's expired short-term memories and enforces the
// long-term cap. It returns how many entries were removed.
func (m *Manager) Cleanup(ctx context.Context, userID string) (int, error) {
	expired, err := m.store.Query(ctx, NewQuery(
		Equals(FieldUserID, userID),
		Equals(FieldTier, TierShortTerm),
		LessThan(FieldExpiresAt, timeNow()),
	))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range expired {
		if err := m.remove(ctx, e.ID); err != nil {
			return removed, err
		}
		removed++
	}

	before, err := m.store.Count(ctx, Equals(FieldUserID, userID), Equals(FieldTier, TierLongTerm))
	if err != nil {
		return removed, err
	}
	if err := m.trimLongTerm(ctx, userID); err != nil {
		return removed, err
	}
	if excess := before - m.cfg.MaxLongTerm; excess > 0 {
		removed += excess
	}

	if removed > 0 {
		m.observer.MemoriesCleaned(ctx, removed)
		m.logger.Info("cleaned memories", "user_id", userID, "count", removed)
	}
	return removed, nil
}

// Insert stores a memory that already names its tier, enforcing the
// expiry invariant: exactly the short-term tier carries an expiry.
func (m *Manager) Insert(ctx context.Context, mem *Memory) (string, error) {
	switch mem.Tier {
	case TierShortTerm:
		inserted, err := m.AddShortTerm(ctx, mem)
		if err != nil {
			return "", err
		}
		return inserted.ID, nil
	case TierLongTerm:
		inserted, err := m.AddLongTerm(ctx, mem)
		if err != nil {
			return "", err
		}
		return inserted.ID, nil
	case TierUserPreference:
		inserted, err := m.AddUserPreference(ctx, Preference{
			UserID:     mem.UserID,
			Category:   mem.Category,
			Content:    mem.Content,
			Importance: mem.Importance,
			Confidence: mem.Confidence,
		})
		if err != nil {
			return "", err
		}
		return inserted.ID, nil
	default:
		return "", fmt.Errorf("unknown memory tier %q", mem.Tier)
	}
}

// Update applies fields to one memory. Expiry updates are checked
// against the entry's tier: exactly the short-term tier carries an
// expiry, so it cannot be cleared there or set anywhere else.
func (m *Manager) Update(ctx context.Context, id string, fields map[Field]any) (bool, error) {
	if v, present := fields[FieldExpiresAt]; present {
		existing, err := m.store.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if existing.Tier == TierShortTerm && v == nil {
			return false, fmt.Errorf("short-term memory %s must keep an expiry", id)
		}
		if existing.Tier != TierShortTerm && v != nil {
			return false, fmt.Errorf("%s memory %s cannot carry an expiry", existing.Tier, id)
		}
	}

	ok, err := m.store.Update(ctx, id, fields)
	if err == nil && ok {
		m.observer.MemoryUpdated(ctx, id)
	}
	return ok, err
}

// Delete removes one memory from the store and the vector index.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	existed, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if existed {
		m.observer.MemoryDeleted(ctx, id)
		if m.index != nil {
			if err := m.index.Remove(ctx, id); err != nil {
				m.logger.Warn("removing memory from vector index", "id", id, "error", err)
			}
		}
	}
	return existed, nil
}

// FindByID returns one memory by id.
func (m *Manager) FindByID(ctx context.Context, id string) (*Memory, error) {
	return m.store.FindByID(ctx, id)
}

// Query runs an arbitrary query against the store.
func (m *Manager) Query(ctx context.Context, q *Query) ([]*Memory, error) {
	return m.store.Query(ctx, q)
}

// Start launches the background maintenance loops.
func (m *Manager) Start() {
	m.maintenance.start()
}

// Close stops maintenance and releases the store and index.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.maintenance.stop()
		if m.index != nil {
			if err := m.index.Close(); err != nil {
				m.closeErr = err
			}
		}
		if err := m.store.Close(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}

// remove deletes without observer fan-out, for internal eviction paths.
func (m *Manager) remove(ctx context.Context, id string) error {
	if _, err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if m.index != nil {
		if err := m.index.Remove(ctx, id); err != nil {
			m.logger.Warn("removing memory from vector index", "id", id, "error", err)
		}
	}
	return nil
}

// indexMemory is the best-effort hook into the vector index; failures are
// logged and never fail the write that triggered them.
func (m *Manager) indexMemory(ctx context.Context, mem *Memory) {
	if m.index == nil {
		return
	}
	if err := m.index.Index(ctx, mem); err != nil {
		m.logger.Warn("indexing memory", "id", mem.ID, "error", err)
	}
}

// markActive records short-term activity for the maintenance scheduler.
func (m *Manager) markActive(userID string) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	m.activeUsers[userID] = timeNow()
}

// snapshotActiveUsers returns users with short-term activity inside the
// retention window, pruning the rest.
func (m *Manager) snapshotActiveUsers() []string {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	cutoff := timeNow().Add(-m.cfg.ShortTermRetention)
	users := make([]string, 0, len(m.activeUsers))
	for user, last := range m.activeUsers {
		if last.Before(cutoff) {
			delete(m.activeUsers, user)
			continue
		}
		users = append(users, user)
	}
	return users
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
