// Package memory is an in-process Store for tests and ephemeral deployments.
//
// Writes made inside RunInTx are staged on the transaction and applied under
// one write lock when fn returns nil, so readers never observe a partial
// commit. LockHead takes a per-constellation lock held until the transaction
// ends; callers lock several constellations in ascending id order.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"icstore/internal/constellation/models"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/sentinel"
)

// defaultTxTimeout bounds how long one transaction may wait for row locks.
const defaultTxTimeout = 30 * time.Second

type pairKey struct{ a, b int64 }

// Store implements the constellation and merge store contracts in memory.
type Store struct {
	mu        sync.RWMutex
	heads     map[int64]*models.Head
	arks      map[string]int64
	history   map[int64][]models.HistoryEntry
	rows      map[int64][]models.Row
	owned     map[int64][]int64
	redirects map[int64]models.Redirect
	maybeSame map[pairKey]models.MaybeSame
	legacy    []models.LegacyMaybeSame

	versionSeq atomic.Int64
	entitySeq  atomic.Int64
	icSeq      atomic.Int64
	legacySeq  atomic.Int64

	locks     *lockTable
	txTimeout time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		heads:     make(map[int64]*models.Head),
		arks:      make(map[string]int64),
		history:   make(map[int64][]models.HistoryEntry),
		rows:      make(map[int64][]models.Row),
		owned:     make(map[int64][]int64),
		redirects: make(map[int64]models.Redirect),
		maybeSame: make(map[pairKey]models.MaybeSame),
		locks:     newLockTable(),
		txTimeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

// tx stages writes until commit.
type tx struct {
	heads     map[int64]*models.Head
	history   []models.HistoryEntry
	rows      []models.Row
	redirects map[int64]models.Redirect
	maybeSame map[pairKey]models.MaybeSame
	migrated  []int64
	held      []int64
}

func newTx() *tx {
	return &tx{
		heads:     make(map[int64]*models.Head),
		redirects: make(map[int64]models.Redirect),
		maybeSame: make(map[pairKey]models.MaybeSame),
	}
}

func txFrom(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// RunInTx runs fn with a staged transaction in ctx.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	t := newTx()
	defer func() {
		for _, id := range t.held {
			s.locks.release(id)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return s.apply(t)
}

// stage runs fn against the transaction in ctx, or against a one-shot
// transaction applied immediately.
func (s *Store) stage(ctx context.Context, fn func(t *tx)) error {
	if t, ok := txFrom(ctx); ok {
		fn(t)
		return nil
	}
	t := newTx()
	fn(t)
	return s.apply(t)
}

// apply publishes t, or nothing if a staged head would reuse another
// constellation's ARK.
func (s *Store) apply(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkArks(t); err != nil {
		return err
	}
	for id, h := range t.heads {
		if prev, ok := s.heads[id]; ok && prev.ArkID != "" && s.arks[prev.ArkID] == id {
			delete(s.arks, prev.ArkID)
		}
		cp := *h
		s.heads[id] = &cp
	}
	for id, h := range t.heads {
		if h.ArkID != "" {
			s.arks[h.ArkID] = id
		}
	}
	for _, e := range t.history {
		s.history[e.ICID] = append(s.history[e.ICID], e)
	}
	for _, r := range t.rows {
		existing := s.rows[r.EntityID]
		if len(existing) == 0 {
			s.owned[r.ICID] = append(s.owned[r.ICID], r.EntityID)
		}
		s.rows[r.EntityID] = append(existing, r)
	}
	for from, r := range t.redirects {
		s.redirects[from] = r
	}
	for k, m := range t.maybeSame {
		s.maybeSame[k] = m
	}
	for _, id := range t.migrated {
		for i := range s.legacy {
			if s.legacy[i].ID == id {
				s.legacy[i].Migrated = true
			}
		}
	}
	return nil
}

// checkArks enforces one constellation per ARK. Caller holds s.mu.
func (s *Store) checkArks(t *tx) error {
	claimed := make(map[string]int64, len(t.heads))
	for id, h := range t.heads {
		if h.ArkID == "" {
			continue
		}
		if other, dup := claimed[h.ArkID]; dup {
			return fmt.Errorf("ark %q claimed by constellations %d and %d: %w", h.ArkID, other, id, sentinel.ErrConflict)
		}
		claimed[h.ArkID] = id
		owner, taken := s.arks[h.ArkID]
		if !taken || owner == id {
			continue
		}
		if restaged, ok := t.heads[owner]; ok && restaged.ArkID != h.ArkID {
			continue
		}
		return fmt.Errorf("ark %q already identifies constellation %d: %w", h.ArkID, owner, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) NextVersion(_ context.Context) (int64, error) {
	return s.versionSeq.Add(1), nil
}

func (s *Store) NextEntityID(_ context.Context) (int64, error) {
	return s.entitySeq.Add(1), nil
}

func (s *Store) NextConstellationID(_ context.Context) (int64, error) {
	return s.icSeq.Add(1), nil
}

// LockHead acquires the per-constellation lock for the surrounding transaction.
func (s *Store) LockHead(ctx context.Context, icID int64) (*models.Head, error) {
	if t, ok := txFrom(ctx); ok && !slices.Contains(t.held, icID) {
		if err := s.locks.acquire(ctx, icID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, fmt.Sprintf("waiting for lock on constellation %d", icID))
		}
		t.held = append(t.held, icID)
	}
	return s.Head(ctx, icID)
}

func (s *Store) Head(ctx context.Context, icID int64) (*models.Head, error) {
	if t, ok := txFrom(ctx); ok {
		if h, staged := t.heads[icID]; staged {
			cp := *h
			return &cp, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heads[icID]
	if !ok {
		return nil, fmt.Errorf("constellation %d: %w", icID, sentinel.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *Store) InsertHead(ctx context.Context, head *models.Head) error {
	if _, err := s.Head(ctx, head.ICID); err == nil {
		return fmt.Errorf("constellation %d exists: %w", head.ICID, sentinel.ErrConflict)
	}
	cp := *head
	return s.stage(ctx, func(t *tx) { t.heads[cp.ICID] = &cp })
}

func (s *Store) UpdateHead(ctx context.Context, head *models.Head, expectedVersion int64) error {
	current, err := s.Head(ctx, head.ICID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("constellation %d at version %d, expected %d: %w",
			head.ICID, current.Version, expectedVersion, sentinel.ErrConflict)
	}
	cp := *head
	return s.stage(ctx, func(t *tx) { t.heads[cp.ICID] = &cp })
}

func (s *Store) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	return s.stage(ctx, func(t *tx) { t.history = append(t.history, entry) })
}

func (s *Store) History(ctx context.Context, icID int64) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	out := slices.Clone(s.history[icID])
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for _, e := range t.history {
			if e.ICID == icID {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) HistoryAt(ctx context.Context, icID, version int64) (*models.HistoryEntry, error) {
	entries, err := s.History(ctx, icID)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Version <= version {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("constellation %d at version %d: %w", icID, version, sentinel.ErrNotFound)
}

func (s *Store) LatestWithStatus(ctx context.Context, icID int64, status models.Status) (*models.HistoryEntry, error) {
	entries, err := s.History(ctx, icID)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == status {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("constellation %d has no %s version: %w", icID, status, sentinel.ErrNotFound)
}

func (s *Store) InsertRows(ctx context.Context, rows []models.Row) error {
	copied := make([]models.Row, len(rows))
	for i, r := range rows {
		r.Payload = slices.Clone(r.Payload)
		copied[i] = r
	}
	return s.stage(ctx, func(t *tx) { t.rows = append(t.rows, copied...) })
}

// candidates returns committed plus staged rows per entity for one constellation.
func (s *Store) candidates(ctx context.Context, icID int64) map[int64][]models.Row {
	out := make(map[int64][]models.Row)
	s.mu.RLock()
	for _, id := range s.owned[icID] {
		out[id] = slices.Clone(s.rows[id])
	}
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for _, r := range t.rows {
			if r.ICID == icID {
				out[r.EntityID] = append(out[r.EntityID], r)
			}
		}
	}
	return out
}

func latestAtOrBefore(rows []models.Row, version int64) (models.Row, bool) {
	var best models.Row
	found := false
	for _, r := range rows {
		if r.Version <= version && (!found || r.Version > best.Version) {
			best, found = r, true
		}
	}
	return best, found
}

func (s *Store) RowsAt(ctx context.Context, icID, version int64) ([]models.Row, error) {
	var out []models.Row
	for _, rows := range s.candidates(ctx, icID) {
		if r, ok := latestAtOrBefore(rows, version); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *Store) EntityRowAt(ctx context.Context, entityID, version int64) (*models.Row, error) {
	s.mu.RLock()
	rows := slices.Clone(s.rows[entityID])
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for _, r := range t.rows {
			if r.EntityID == entityID {
				rows = append(rows, r)
			}
		}
	}
	r, ok := latestAtOrBefore(rows, version)
	if !ok {
		return nil, fmt.Errorf("entity %d at version %d: %w", entityID, version, sentinel.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) CurrentNames(ctx context.Context) ([]models.NameRow, error) {
	s.mu.RLock()
	heads := make([]models.Head, 0, len(s.heads))
	for _, h := range s.heads {
		if h.Status.IsActive() {
			heads = append(heads, *h)
		}
	}
	s.mu.RUnlock()
	sort.Slice(heads, func(i, j int) bool { return heads[i].ICID < heads[j].ICID })

	var out []models.NameRow
	for _, h := range heads {
		rows, err := s.RowsAt(ctx, h.ICID, h.Version)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if r.Deleted || r.Kind != models.KindNameEntry {
				continue
			}
			e, err := models.DecodePayload(r.Kind, r.Payload)
			if err != nil {
				return nil, err
			}
			out = append(out, models.NameRow{ICID: h.ICID, EntryID: r.EntityID, Original: e.(*models.NameEntry).Original})
		}
	}
	return out, nil
}

func (s *Store) Redirect(ctx context.Context, icID int64) (*models.Redirect, error) {
	if t, ok := txFrom(ctx); ok {
		if r, staged := t.redirects[icID]; staged {
			return &r, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.redirects[icID]
	if !ok {
		return nil, fmt.Errorf("redirect for %d: %w", icID, sentinel.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) SetRedirect(ctx context.Context, r models.Redirect) error {
	return s.stage(ctx, func(t *tx) { t.redirects[r.FromICID] = r })
}

func (s *Store) RetargetRedirects(ctx context.Context, from []int64, to int64) error {
	s.mu.RLock()
	all := make(map[int64]models.Redirect, len(s.redirects))
	for k, r := range s.redirects {
		all[k] = r
	}
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for k, r := range t.redirects {
			all[k] = r
		}
	}
	var changed []models.Redirect
	for _, r := range all {
		if slices.Contains(from, r.ToICID) {
			r.ToICID = to
			changed = append(changed, r)
		}
	}
	return s.stage(ctx, func(t *tx) {
		for _, r := range changed {
			t.redirects[r.FromICID] = r
		}
	})
}

func (s *Store) FindByArk(ctx context.Context, ark string) (int64, error) {
	var best int64
	consider := func(h *models.Head) {
		if h.ArkID == ark && (best == 0 || h.ICID < best) {
			best = h.ICID
		}
	}
	s.mu.RLock()
	for _, h := range s.heads {
		consider(h)
	}
	s.mu.RUnlock()
	if t, ok := txFrom(ctx); ok {
		for _, h := range t.heads {
			consider(h)
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("ark %q: %w", ark, sentinel.ErrNotFound)
	}
	return best, nil
}

// lockTable hands out one single-slot channel per constellation so waits
// can be cancelled through ctx.
type lockTable struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[int64]chan struct{})}
}

func (l *lockTable) slot(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, id int64) error {
	select {
	case l.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lockTable) release(id int64) {
	<-l.slot(id)
}
