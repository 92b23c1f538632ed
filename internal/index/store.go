package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	indexFileName   = "index.bin"
	mappingFileName = "mapping.bin"
	lockFileName    = "store.lock"

	defaultPersistBatchSize = 10
	defaultLockRetries      = 5
	defaultLockRetryDelay   = 100 * time.Millisecond
	reloadDebounce          = 200 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// Dir holds the snapshot files and the lock file.
	Dir  string
	Kind Kind
	Dim  int
	// PersistBatchSize defers snapshot writes until this many adds have
	// accumulated. Delete, Sync and Flush always persist.
	PersistBatchSize int
	Graph            GraphParams
	// QuerySearchWidth is the minimum layer-0 pool size for approximate
	// searches; the effective width is at least twice the requested k.
	QuerySearchWidth int
	// LockRetries bounds non-blocking lock attempts before falling back to a
	// blocking acquire.
	LockRetries    int
	LockRetryDelay time.Duration
	// DisableWatch turns off the snapshot reload watcher (tests).
	DisableWatch bool
}

func (o *Options) applyDefaults() {
	if o.PersistBatchSize <= 0 {
		o.PersistBatchSize = defaultPersistBatchSize
	}
	if o.LockRetries <= 0 {
		o.LockRetries = defaultLockRetries
	}
	if o.LockRetryDelay <= 0 {
		o.LockRetryDelay = defaultLockRetryDelay
	}
	if o.Kind == "" {
		o.Kind = KindExact
	}
}

// Match is a search hit resolved to its external catalog id.
type Match struct {
	ExternalID int64
	Ordinal    uint32
	Score      float64
}

// Store owns a nearest-neighbor index, its ordinal to external-id mapping and
// their durable snapshots. Mutations take a cross-process file lock; reads
// take the in-process lock only, so readers may briefly serve a snapshot
// another process has already replaced.
type Store struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	idx     Index
	mapping map[uint32]int64
	pending int // adds since last persist

	fileLock *flock.Flock
	watcher  *fsnotify.Watcher
	done     chan struct{}
	closed   sync.Once
}

// Open loads the store from its snapshot directory, creating it if missing.
// A snapshot that fails its consistency check is archived with a timestamp
// suffix and reported as the Corruption return; the store comes up empty in
// that case. Corruption is an expected outcome and never makes Open fail.
func Open(opts Options, logger *zap.Logger) (*Store, *Corruption, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dim <= 0 {
		return nil, nil, fmt.Errorf("dimension must be positive, got %d", opts.Dim)
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		opts:     opts,
		logger:   logger,
		mapping:  make(map[uint32]int64),
		fileLock: flock.New(filepath.Join(opts.Dir, lockFileName)),
		done:     make(chan struct{}),
	}

	idx, err := New(opts.Kind, opts.Dim, opts.Graph)
	if err != nil {
		return nil, nil, err
	}
	s.idx = idx

	corruption, err := s.loadSnapshot()
	if err != nil {
		return nil, nil, err
	}
	if corruption != nil {
		logger.Warn("snapshot corrupted, starting with empty index",
			zap.String("kind", string(corruption.Kind)),
			zap.String("archived", corruption.ArchivedPath),
			zap.String("detail", corruption.Detail))
	} else {
		logger.Info("vector store opened",
			zap.String("dir", opts.Dir),
			zap.String("index_kind", string(opts.Kind)),
			zap.Int("vectors", s.idx.Count()),
			zap.Int("mapped", len(s.mapping)))
	}

	if !opts.DisableWatch {
		if err := s.startWatcher(); err != nil {
			logger.Warn("snapshot watcher unavailable", zap.Error(err))
		}
	}
	return s, corruption, nil
}

func (s *Store) indexPath() string   { return filepath.Join(s.opts.Dir, indexFileName) }
func (s *Store) mappingPath() string { return filepath.Join(s.opts.Dir, mappingFileName) }

// softDelete reports whether deletions leave vectors resident in the index.
func (s *Store) softDelete() bool { return s.opts.Kind == KindApproximate }

// Add appends the vector under the cross-process lock and returns its
// ordinal, which equals Count()-1 for exact indexes. The snapshot write is
// deferred until PersistBatchSize adds have accumulated. When that write
// fails the add itself has still taken effect, so the ordinal is returned
// alongside the error; callers must not re-add the vector.
func (s *Store) Add(ctx context.Context, vector []float32, externalID int64) (uint32, error) {
	release, err := s.lockExclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	ordinal := uint32(s.idx.Count())
	if err := s.idx.Add([][]float32{vector}); err != nil {
		return 0, err
	}
	s.mapping[ordinal] = externalID
	if err := s.checkConsistency(); err != nil {
		return 0, err
	}

	s.pending++
	if s.pending >= s.opts.PersistBatchSize {
		if err := s.persistLocked(); err != nil {
			// The vector and mapping entry are already live in memory; the
			// next successful persist will carry them. Returning the ordinal
			// lets a retrying caller avoid inserting a duplicate.
			return ordinal, err
		}
	}
	return ordinal, nil
}

// Search returns up to k matches resolved to external ids, best first. An
// empty index returns an empty list, never an error. Ordinals no longer in
// the mapping (soft-deleted) are suppressed.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.mapping) == 0 {
		return nil, nil
	}

	// Ask for extra hits to cover soft-deleted ordinals the mapping filters out.
	ask := k + (s.idx.Count() - len(s.mapping))
	if ask > s.idx.Count() {
		ask = s.idx.Count()
	}
	width := s.opts.QuerySearchWidth
	if width < 2*k {
		width = 2 * k
	}

	hits, err := s.idx.Search(query, ask, width)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, k)
	for _, hit := range hits {
		id, ok := s.mapping[hit.Ordinal]
		if !ok {
			continue
		}
		matches = append(matches, Match{ExternalID: id, Ordinal: hit.Ordinal, Score: hit.Score})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// Delete removes every ordinal mapped to externalID and returns how many were
// removed. Deleting an unknown id returns 0, not an error. The snapshot is
// persisted immediately.
func (s *Store) Delete(ctx context.Context, externalID int64) (int, error) {
	release, err := s.lockExclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(externalID)
}

func (s *Store) deleteLocked(externalID int64) (int, error) {
	var ordinals []uint32
	for ord, id := range s.mapping {
		if id == externalID {
			ordinals = append(ordinals, ord)
		}
	}
	if len(ordinals) == 0 {
		return 0, nil
	}

	if err := s.removeOrdinalsLocked(ordinals); err != nil {
		return 0, err
	}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return len(ordinals), nil
}

func (s *Store) removeOrdinalsLocked(ordinals []uint32) error {
	switch err := s.idx.Remove(ordinals); {
	case err == nil:
		// Physical removal compacted the index; shift mapping keys down past
		// the removed positions.
		sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })
		shifted := make(map[uint32]int64, len(s.mapping)-len(ordinals))
		for ord, id := range s.mapping {
			below := 0
			removed := false
			for _, r := range ordinals {
				if r == ord {
					removed = true
					break
				}
				if r < ord {
					below++
				}
			}
			if !removed {
				shifted[ord-uint32(below)] = id
			}
		}
		s.mapping = shifted
	case err == ErrRemoveUnsupported:
		// Soft delete: mapping absence alone hides the ordinals from results.
		for _, ord := range ordinals {
			delete(s.mapping, ord)
		}
	default:
		return err
	}
	return s.checkConsistency()
}

// Sync removes every mapped id absent from validIDs and returns the orphan
// ids with the number of vectors removed. The snapshot is persisted once.
func (s *Store) Sync(ctx context.Context, validIDs []int64) (orphans []int64, removed int, err error) {
	release, err := s.lockExclusive(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	valid := make(map[int64]bool, len(validIDs))
	for _, id := range validIDs {
		valid[id] = true
	}
	seen := make(map[int64]bool)
	for _, id := range s.mapping {
		if !valid[id] && !seen[id] {
			seen[id] = true
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })

	for _, id := range orphans {
		var ordinals []uint32
		for ord, mapped := range s.mapping {
			if mapped == id {
				ordinals = append(ordinals, ord)
			}
		}
		if err := s.removeOrdinalsLocked(ordinals); err != nil {
			return nil, 0, err
		}
		removed += len(ordinals)
	}
	if removed > 0 {
		if err := s.persistLocked(); err != nil {
			return nil, 0, err
		}
	}
	return orphans, removed, nil
}

// Flush persists any deferred adds.
func (s *Store) Flush(ctx context.Context) error {
	release, err := s.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 {
		return nil
	}
	return s.persistLocked()
}

// Count returns the number of live (mapped) vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mapping)
}

// VectorCount returns the number of vectors physically in the index,
// including soft-deleted ones.
func (s *Store) VectorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Count()
}

// Kind returns the index kind in use.
func (s *Store) Kind() Kind { return s.opts.Kind }

// Dim returns the vector dimension.
func (s *Store) Dim() int { return s.opts.Dim }

// Close flushes deferred writes and stops the snapshot watcher.
func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.Flush(ctx)
	})
	return err
}

// lockExclusive acquires the cross-process file lock: a bounded number of
// non-blocking attempts with delay, then a blocking acquire.
func (s *Store) lockExclusive(ctx context.Context) (func(), error) {
	for i := 0; i < s.opts.LockRetries; i++ {
		locked, err := s.fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire store lock: %w", err)
		}
		if locked {
			return s.unlockFile, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.LockRetryDelay):
		}
	}
	if err := s.fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	return s.unlockFile, nil
}

func (s *Store) unlockFile() {
	if err := s.fileLock.Unlock(); err != nil {
		s.logger.Warn("release store lock", zap.Error(err))
	}
}

// checkConsistency enforces the count == mapping size invariant. Approximate
// indexes keep soft-deleted vectors resident, so the mapping may be smaller
// but never larger, and every mapped ordinal must exist.
func (s *Store) checkConsistency() error {
	count := s.idx.Count()
	if !s.softDelete() && len(s.mapping) != count {
		return fmt.Errorf("consistency violation: index has %d vectors, mapping has %d entries", count, len(s.mapping))
	}
	if len(s.mapping) > count {
		return fmt.Errorf("consistency violation: mapping has %d entries for %d vectors", len(s.mapping), count)
	}
	for ord := range s.mapping {
		if int(ord) >= count {
			return fmt.Errorf("consistency violation: mapped ordinal %d beyond index count %d", ord, count)
		}
	}
	return nil
}

// loadSnapshot restores the index and mapping from disk. A missing snapshot
// leaves the store empty. A rejected snapshot is archived and reported.
func (s *Store) loadSnapshot() (*Corruption, error) {
	indexData, indexErr := os.ReadFile(s.indexPath())
	if indexErr != nil && !os.IsNotExist(indexErr) {
		return nil, fmt.Errorf("read index snapshot: %w", indexErr)
	}
	mappingData, mapErr := os.ReadFile(s.mappingPath())
	if mapErr != nil && !os.IsNotExist(mapErr) {
		return nil, fmt.Errorf("read mapping snapshot: %w", mapErr)
	}

	if os.IsNotExist(indexErr) && os.IsNotExist(mapErr) {
		return nil, nil
	}
	if os.IsNotExist(indexErr) != os.IsNotExist(mapErr) {
		return s.archiveSnapshot(CorruptionMismatch, "index and mapping snapshots do not pair up")
	}
	if len(indexData) == 0 {
		return s.archiveSnapshot(CorruptionEmptySnapshot, "index snapshot is zero-length")
	}

	idx, err := New(s.opts.Kind, s.opts.Dim, s.opts.Graph)
	if err != nil {
		return nil, err
	}
	if err := idx.UnmarshalBinary(indexData); err != nil {
		return s.archiveSnapshot(CorruptionDecode, fmt.Sprintf("decode index: %v", err))
	}
	mapping, err := decodeMapping(mappingData)
	if err != nil {
		return s.archiveSnapshot(CorruptionDecode, fmt.Sprintf("decode mapping: %v", err))
	}

	s.idx = idx
	s.mapping = mapping
	if err := s.checkConsistency(); err != nil {
		empty, newErr := New(s.opts.Kind, s.opts.Dim, s.opts.Graph)
		if newErr != nil {
			return nil, newErr
		}
		s.idx = empty
		s.mapping = make(map[uint32]int64)
		return s.archiveSnapshot(CorruptionMismatch, err.Error())
	}
	return nil, nil
}

// archiveSnapshot renames the corrupt snapshot files aside with a timestamp
// suffix. Corrupt data is never silently deleted.
func (s *Store) archiveSnapshot(kind CorruptionKind, detail string) (*Corruption, error) {
	suffix := fmt.Sprintf(".corrupted_%d", time.Now().Unix())
	archived := s.indexPath() + suffix
	for _, path := range []string{s.indexPath(), s.mappingPath()} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Rename(path, path+suffix); err != nil {
			return nil, fmt.Errorf("archive corrupt snapshot %s: %w", path, err)
		}
	}
	return &Corruption{Kind: kind, ArchivedPath: archived, Detail: detail}, nil
}

// persistLocked writes both snapshots atomically: temp file, verify, then a
// single rename over the active path. The previous snapshot survives as .bak.
// Callers hold both the file lock and the write lock.
func (s *Store) persistLocked() error {
	if err := s.checkConsistency(); err != nil {
		return err
	}
	indexData, err := s.idx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if len(indexData) == 0 {
		return fmt.Errorf("encode index: empty snapshot")
	}
	mappingData := encodeMapping(s.mapping)

	tmpSuffix := ".tmp-" + uuid.NewString()
	tmpIndex := s.indexPath() + tmpSuffix
	tmpMapping := s.mappingPath() + tmpSuffix
	cleanup := func() {
		os.Remove(tmpIndex)
		os.Remove(tmpMapping)
	}

	if err := os.WriteFile(tmpIndex, indexData, 0644); err != nil {
		cleanup()
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.WriteFile(tmpMapping, mappingData, 0644); err != nil {
		cleanup()
		return fmt.Errorf("write mapping snapshot: %w", err)
	}
	// Verify what actually reached the disk before replacing the active files.
	for _, tmp := range []string{tmpIndex, tmpMapping} {
		info, err := os.Stat(tmp)
		if err != nil || info.Size() == 0 {
			cleanup()
			return fmt.Errorf("verify snapshot %s: %v", tmp, err)
		}
	}

	backupFile(s.indexPath())
	backupFile(s.mappingPath())
	if err := os.Rename(tmpIndex, s.indexPath()); err != nil {
		cleanup()
		return fmt.Errorf("activate index snapshot: %w", err)
	}
	if err := os.Rename(tmpMapping, s.mappingPath()); err != nil {
		cleanup()
		return fmt.Errorf("activate mapping snapshot: %w", err)
	}

	s.pending = 0
	s.logger.Debug("snapshot persisted",
		zap.Int("vectors", s.idx.Count()),
		zap.Int("mapped", len(s.mapping)))
	return nil
}

// backupFile keeps the previous valid snapshot as <path>.bak. The active path
// itself is only ever mutated by the rename in persistLocked.
func backupFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	bak := path + ".bak"
	os.Remove(bak)
	if err := os.Link(path, bak); err != nil {
		// Fall back to a byte copy on filesystems without hard links.
		if data, rerr := os.ReadFile(path); rerr == nil {
			os.WriteFile(bak, data, 0644)
		}
	}
}

// startWatcher reloads the in-memory copy when another process replaces the
// active snapshot, giving readers eventual consistency without locking.
func (s *Store) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.opts.Dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != indexFileName && filepath.Base(event.Name) != mappingFileName {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, s.reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("snapshot watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// reload swaps in the on-disk snapshot. A snapshot that fails to decode or
// check out is skipped; the other process may still be mid-write and the
// current in-memory state stays authoritative.
func (s *Store) reload() {
	indexData, err := os.ReadFile(s.indexPath())
	if err != nil || len(indexData) == 0 {
		return
	}
	mappingData, err := os.ReadFile(s.mappingPath())
	if err != nil {
		return
	}
	idx, err := New(s.opts.Kind, s.opts.Dim, s.opts.Graph)
	if err != nil {
		return
	}
	if err := idx.UnmarshalBinary(indexData); err != nil {
		s.logger.Debug("snapshot reload skipped", zap.Error(err))
		return
	}
	mapping, err := decodeMapping(mappingData)
	if err != nil {
		s.logger.Debug("snapshot reload skipped", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.idx
	prevMapping := s.mapping
	s.idx = idx
	s.mapping = mapping
	if err := s.checkConsistency(); err != nil {
		s.idx = prev
		s.mapping = prevMapping
		s.logger.Debug("snapshot reload skipped", zap.Error(err))
		return
	}
	s.logger.Debug("snapshot reloaded",
		zap.Int("vectors", idx.Count()),
		zap.Int("mapped", len(mapping)))
}

// encodeMapping writes the ordinal to external-id pairs as: count, then
// (ordinal uint32, id int64) little-endian pairs in ordinal order.
func encodeMapping(mapping map[uint32]int64) []byte {
	ordinals := make([]uint32, 0, len(mapping))
	for ord := range mapping {
		ordinals = append(ordinals, ord)
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(ordinals)))
	for _, ord := range ordinals {
		binary.Write(&buf, binary.LittleEndian, ord)
		binary.Write(&buf, binary.LittleEndian, mapping[ord])
	}
	return buf.Bytes()
}

func decodeMapping(data []byte) (map[uint32]int64, error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read mapping count: %w", err)
	}
	mapping := make(map[uint32]int64, n)
	for i := uint32(0); i < n; i++ {
		var ord uint32
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &ord); err != nil {
			return nil, fmt.Errorf("read mapping ordinal: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("read mapping id: %w", err)
		}
		mapping[ord] = id
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing bytes in mapping snapshot")
	}
	return mapping, nil
}
