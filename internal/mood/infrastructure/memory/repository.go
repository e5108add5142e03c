package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	mood "workspace-mood-monitor/internal/mood/domain"
)

type recordKey struct {
	parentPath string
	contentID  string
}

// MoodRepository keeps mood records in memory.
type MoodRepository struct {
	mu      sync.RWMutex
	records []mood.MoodRecord
	seen    map[recordKey]struct{}
}

// NewMoodRepository constructs an empty repository.
func NewMoodRepository() *MoodRepository {
	return &MoodRepository{seen: make(map[recordKey]struct{})}
}

// Insert stores rec unless (ParentPath, ContentID) already exists.
func (r *MoodRepository) Insert(ctx context.Context, rec mood.MoodRecord) (bool, error) {
	if rec.ParentPath == "" || rec.ContentID == "" {
		return false, errors.New("mood repo: parent path and content id required")
	}
	key := recordKey{parentPath: rec.ParentPath, contentID: rec.ContentID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = time.Now().UTC()
	}
	r.seen[key] = struct{}{}
	r.records = append(r.records, rec)
	return true, nil
}

// Latest returns the newest record for room observed at or after since.
func (r *MoodRepository) Latest(ctx context.Context, room string, since time.Time) (*mood.MoodRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *mood.MoodRecord
	for i := range r.records {
		rec := r.records[i]
		if room != "" && rec.Room != room {
			continue
		}
		if rec.ObservedAt.Before(since) {
			continue
		}
		if latest == nil || !rec.ObservedAt.Before(latest.ObservedAt) {
			copied := rec
			latest = &copied
		}
	}
	return latest, nil
}

// List returns records for room within [from, to), oldest first.
func (r *MoodRepository) List(ctx context.Context, room string, from, to time.Time) ([]mood.MoodRecord, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, errors.New("mood repo: invalid range")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []mood.MoodRecord
	for _, rec := range r.records {
		if room != "" && rec.Room != room {
			continue
		}
		if rec.ObservedAt.Before(from) || !rec.ObservedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// Len returns the number of stored records.
func (r *MoodRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
