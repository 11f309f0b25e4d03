// Package progress persists per-URL scrape status to a JSON file so an
// interrupted run can resume without re-fetching pages it already has.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Entry is the recorded state of one product URL.
type Entry struct {
	URL       string    `json:"url"`
	Site      string    `json:"site"`
	SKU       string    `json:"sku,omitempty"`
	Status    string    `json:"status"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Tracker is a URL-keyed status map backed by a JSON file. Writes go
// through a temp file so a crash mid-save never corrupts the run state.
type Tracker struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	filename string
}

func NewTracker(filename string) (*Tracker, error) {
	tr := &Tracker{
		entries:  make(map[string]*Entry),
		filename: filename,
	}

	if err := tr.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return tr, nil
}

// Add registers a URL as pending. Known URLs keep their existing status so
// resuming a run never demotes completed work.
func (tr *Tracker) Add(site, url string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if url == "" {
		return fmt.Errorf("url is required")
	}
	if _, exists := tr.entries[url]; exists {
		return nil
	}

	now := time.Now()
	tr.entries[url] = &Entry{
		URL:       url,
		Site:      site,
		Status:    StatusPending,
		AddedAt:   now,
		UpdatedAt: now,
	}

	return tr.save()
}

func (tr *Tracker) AddBatch(site string, urls []string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, exists := tr.entries[url]; exists {
			continue
		}
		tr.entries[url] = &Entry{
			URL:       url,
			Site:      site,
			Status:    StatusPending,
			AddedAt:   now,
			UpdatedAt: now,
		}
	}

	return tr.save()
}

func (tr *Tracker) Get(url string) (*Entry, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	entry, exists := tr.entries[url]
	return entry, exists
}

// Done reports whether a URL has already been scraped or deliberately
// skipped; the orchestrator drops those from the work queue on resume.
func (tr *Tracker) Done(url string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	entry, exists := tr.entries[url]
	if !exists {
		return false
	}
	return entry.Status == StatusCompleted || entry.Status == StatusSkipped
}

func (tr *Tracker) Pending(site string) []*Entry {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var pending []*Entry
	for _, entry := range tr.entries {
		if entry.Status != StatusPending {
			continue
		}
		if site != "" && entry.Site != site {
			continue
		}
		pending = append(pending, entry)
	}
	return pending
}

func (tr *Tracker) SetStatus(url, status, errorMsg string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, exists := tr.entries[url]
	if !exists {
		return fmt.Errorf("url not tracked: %s", url)
	}

	entry.Status = status
	entry.UpdatedAt = time.Now()
	entry.Error = errorMsg

	return tr.save()
}

func (tr *Tracker) SetSKU(url, sku string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, exists := tr.entries[url]
	if !exists {
		return fmt.Errorf("url not tracked: %s", url)
	}

	entry.SKU = sku
	entry.UpdatedAt = time.Now()

	return tr.save()
}

func (tr *Tracker) Stats() map[string]int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	stats := make(map[string]int)
	for _, entry := range tr.entries {
		stats[entry.Status]++
	}
	stats["total"] = len(tr.entries)
	return stats
}

func (tr *Tracker) save() error {
	data, err := json.MarshalIndent(tr.entries, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := tr.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, tr.filename)
}

func (tr *Tracker) load() error {
	data, err := os.ReadFile(tr.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &tr.entries)
}
