// Package history manages the signed-in user's past generations: fetching,
// local filtering, and optimistic deletion. It shares the gateway and the
// session with the workflow controller but no mutable state.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"captionit/internal/api"
	"captionit/internal/session"
)

// FilterAll is the style filter value that disables style matching.
const FilterAll = "all"

type gateway interface {
	ListHistory(ctx context.Context) ([]api.HistoryRecord, error)
	DeleteHistoryItem(ctx context.Context, id string) error
	ClearHistory(ctx context.Context) error
}

type sessions interface {
	Snapshot() session.Snapshot
}

// Controller owns the history list view state. Mutations are optimistic:
// the list changes synchronously and rolls back if the backend call fails.
type Controller struct {
	gw   gateway
	sess sessions

	mu       sync.Mutex
	records  []api.HistoryRecord
	search   string
	style    string
	loading  bool
	clearing bool
	deleting map[string]bool
	errMsg   string
}

// NewController creates an empty controller; call Load to populate it.
func NewController(gw gateway, sess sessions) *Controller {
	return &Controller{
		gw:       gw,
		sess:     sess,
		style:    FilterAll,
		deleting: make(map[string]bool),
	}
}

// Load fetches the full history. An unauthenticated session yields an empty
// list without touching the backend.
func (c *Controller) Load(ctx context.Context) error {
	if !c.sess.Snapshot().Present {
		c.mu.Lock()
		c.records = nil
		c.loading = false
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.loading = true
	c.errMsg = ""
	c.mu.Unlock()

	records, err := c.gw.ListHistory(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		c.records = nil
		c.errMsg = fmt.Sprintf("Failed to load history: %v", err)
		return err
	}
	c.records = records
	return nil
}

// SetSearch updates the free-text filter. Purely local, no re-fetch.
func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	c.search = term
	c.mu.Unlock()
}

// SetStyleFilter updates the exact style-id filter. FilterAll disables it.
func (c *Controller) SetStyleFilter(styleID string) {
	c.mu.Lock()
	if styleID == "" {
		styleID = FilterAll
	}
	c.style = styleID
	c.mu.Unlock()
}

// Visible returns the records matching both active filters, in fetch order.
func (c *Controller) Visible() []api.HistoryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

func (c *Controller) visibleLocked() []api.HistoryRecord {
	term := strings.ToLower(strings.TrimSpace(c.search))
	out := make([]api.HistoryRecord, 0, len(c.records))
	for _, rec := range c.records {
		if term != "" &&
			!strings.Contains(strings.ToLower(rec.EnhancedCaption), term) &&
			!strings.Contains(strings.ToLower(rec.CustomDescription), term) {
			continue
		}
		if c.style != FilterAll && rec.Style != c.style {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Counts returns (visible, total) for the "Showing X of Y" line.
func (c *Controller) Counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visibleLocked()), len(c.records)
}

// Delete removes the record locally before the backend acknowledges, so the
// row disappears immediately. On failure the record is re-inserted at its
// original position and the error surfaced.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.deleting[id] {
		c.mu.Unlock()
		return nil
	}
	idx := -1
	for i, rec := range c.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	removed := c.records[idx]
	c.records = append(c.records[:idx:idx], c.records[idx+1:]...)
	c.deleting[id] = true
	c.mu.Unlock()

	err := c.gw.DeleteHistoryItem(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deleting, id)
	if err != nil {
		if idx > len(c.records) {
			idx = len(c.records)
		}
		c.records = append(c.records[:idx], append([]api.HistoryRecord{removed}, c.records[idx:]...)...)
		c.errMsg = fmt.Sprintf("Failed to delete: %v", err)
		return err
	}
	return nil
}

// ClearAll empties the whole list optimistically. Callers are responsible
// for the user confirmation step before invoking this.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	if c.clearing {
		c.mu.Unlock()
		return nil
	}
	backup := c.records
	c.records = nil
	c.clearing = true
	c.mu.Unlock()

	err := c.gw.ClearHistory(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearing = false
	if err != nil {
		c.records = backup
		c.errMsg = fmt.Sprintf("Failed to clear history: %v", err)
		return err
	}
	return nil
}

// Deleting reports whether the given record has a delete in flight, so only
// that row shows a spinner while the rest stay interactive.
func (c *Controller) Deleting(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleting[id]
}

// Clearing reports whether a clear-all is in flight.
func (c *Controller) Clearing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearing
}

// Loading reports whether the initial fetch is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the current error message. History errors persist until
// dismissed or replaced, unlike the workflow's auto-clearing banner.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// DismissError clears the error message.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}
