// Package observability tracks DDL activity per table.
package observability

import (
	"sort"
	"sync"
	"time"
)

// DDLStats counts executed operations and refused fits per table.
type DDLStats struct {
	mu     sync.RWMutex
	tables map[string]*TableStats
	window time.Duration
}

// TableStats holds the activity recorded for one table.
type TableStats struct {
	Table      string
	Operations int64
	Conflicts  int64
	LastSeen   time.Time
	ByKind     map[string]int64 // operation kind → count (e.g., "add_column" → 2)
	ByCode     map[string]int64 // conflict code → count
}

// NewDDLStats creates a tracker. Entries idle for longer than window are
// removed by Prune; a zero window keeps everything.
func NewDDLStats(window time.Duration) *DDLStats {
	return &DDLStats{
		tables: make(map[string]*TableStats),
		window: window,
	}
}

func (d *DDLStats) entry(table string) *TableStats {
	s, ok := d.tables[table]
	if !ok {
		s = &TableStats{
			Table:  table,
			ByKind: make(map[string]int64),
			ByCode: make(map[string]int64),
		}
		d.tables[table] = s
	}
	s.LastSeen = time.Now()
	return s
}

// RecordOperation records one executed statement of the given kind.
func (d *DDLStats) RecordOperation(table, kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.entry(table)
	s.Operations++
	s.ByKind[kind]++
}

// RecordConflict records a fit refused with the given error code.
func (d *DDLStats) RecordConflict(table, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.entry(table)
	s.Conflicts++
	s.ByCode[code]++
}

// Table returns a copy of the stats for table.
func (d *DDLStats) Table(table string) (TableStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.tables[table]
	if !ok {
		return TableStats{}, false
	}
	return s.clone(), true
}

// Top returns copies of the n most active tables, by operations then
// conflicts, descending.
func (d *DDLStats) Top(n int) []TableStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || len(d.tables) == 0 {
		return []TableStats{}
	}

	stats := make([]TableStats, 0, len(d.tables))
	for _, s := range d.tables {
		stats = append(stats, s.clone())
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Operations != stats[j].Operations {
			return stats[i].Operations > stats[j].Operations
		}
		if stats[i].Conflicts != stats[j].Conflicts {
			return stats[i].Conflicts > stats[j].Conflicts
		}
		return stats[i].Table < stats[j].Table
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes tables with no activity within the window.
func (d *DDLStats) Prune() {
	if d.window <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := time.Now().Add(-d.window)
	for table, s := range d.tables {
		if s.LastSeen.Before(threshold) {
			delete(d.tables, table)
		}
	}
}

func (s *TableStats) clone() TableStats {
	c := *s
	c.ByKind = make(map[string]int64, len(s.ByKind))
	for k, v := range s.ByKind {
		c.ByKind[k] = v
	}
	c.ByCode = make(map[string]int64, len(s.ByCode))
	for k, v := range s.ByCode {
		c.ByCode[k] = v
	}
	return c
}
