// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package candidateindex implements the priority-ranked candidate index: a
// "key -> ordered candidate labels" structure mapping a class or symbol
// name to the targets that can provide it. Unlike a build-time index, this
// one is mutated live while a repair session runs, so it additionally
// tracks per-target priority, popularity and insertion order to break ties
// deterministically.
package candidateindex

import (
	"sort"
	"sync"
)

// entry is one candidate for a key: a target and the priority it was last
// inserted with, plus the monotonic insertion sequence used to break ties
// between equal priorities.
type entry struct {
	targetID uint64
	priority int16
	seq uint64
}

// Table is the candidate index: class/symbol name -> priority-ordered
// target ids, plus interned target strings, an alias map, and per-target
// popularity/ctime metadata.
type Table struct {
	mu sync.RWMutex

	byKey map[string]*priorityList

	internedByID map[uint64]string
	internedByString map[string]uint64
	nextID uint64

	aliases map[uint64]uint64

	popularity map[uint64]uint16
	jarCtime map[uint64]uint64

	nextSeq uint64
	mutated bool
}

// priorityList holds the candidates for one key, kept sorted by priority
// descending (ties broken by insertion sequence ascending), with no
// duplicate target ids.
type priorityList struct {
	mu sync.Mutex
	entries []entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		byKey: make(map[string]*priorityList),
		internedByID: make(map[uint64]string),
		internedByString: make(map[string]uint64),
		aliases: make(map[uint64]uint64),
		popularity: make(map[uint64]uint16),
		jarCtime: make(map[uint64]uint64),
	}
}

// intern returns the target id for a target string, creating it if it
// doesn't already exist. Must be called with t.mu held for writing.
func (t *Table) intern(target string) uint64 {
	if id, ok:= t.internedByString[target]; ok {
		return id
	}
	id:= t.nextID
	t.nextID++
	t.internedByString[target] = id
	t.internedByID[id] = target
	return id
}

// Mutated reports whether the table has been modified since the last call
// to ClearMutated (normally made right after a successful Write).
func (t *Table) Mutated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mutated
}

// ClearMutated clears the mutated flag; call after persisting the table.
func (t *Table) ClearMutated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutated = false
}

// InsertWithID inserts or updates one (key, target, priority) triple.
// Returns whether the table was actually mutated (no-op re-insertions of
// an unchanged priority return false).
func (t *Table) InsertWithID(key, target string, priority int16) bool {
	t.mu.Lock()
	targetID:= t.intern(target)
	list, ok:= t.byKey[key]
	if !ok {
		list = &priorityList{}
		t.byKey[key] = list
	}
	seq:= t.nextSeq
	t.nextSeq++
	t.mu.Unlock()

	changed:= list.upsert(targetID, priority, seq)
	if changed {
		t.mu.Lock()
		t.mutated = true
		t.mu.Unlock()
	}
	return changed
}

// upsert inserts target/priority into the list if new, updates it in place
// if the priority differs, or no-ops if it's already present with the same
// priority. The list stays sorted by priority descending, ties by
// insertion sequence ascending.
func (l *priorityList) upsert(targetID uint64, priority int16, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i:= range l.entries {
		if l.entries[i].targetID == targetID {
			if l.entries[i].priority == priority {
				return false
			}
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.entries = append(l.entries, entry{targetID: targetID, priority: priority, seq: seq})
	sort.SliceStable(l.entries, func(i, j int) bool {
		if l.entries[i].priority != l.entries[j].priority {
			return l.entries[i].priority > l.entries[j].priority
		}
		return l.entries[i].seq < l.entries[j].seq
	})
	return true
}

// Candidate is one ranked result from a lookup, with the target string
// already resolved (through any alias) for the caller's convenience.
type Candidate struct {
	Target string
	Priority int16
}

// resolveAlias follows the alias chain (bounded, to tolerate accidental
// cycles) to the canonical target id for an id.
func (t *Table) resolveAlias(id uint64) uint64 {
	for range t.aliases {
		next, ok:= t.aliases[id]
		if !ok || next == id {
			return id
		}
		id = next
	}
	return id
}

// Lookup returns the ranked candidates for an exact key (used for Prefix
// requests with a direct hit, and as the building block for suffix scans).
func (t *Table) Lookup(key string) []Candidate {
	t.mu.RLock()
	list, ok:= t.byKey[key]
	if !ok {
		t.mu.RUnlock()
		return nil
	}
	t.mu.RUnlock()

	list.mu.Lock()
	entries:= append([]entry(nil), list.entries...)
	list.mu.Unlock()

	t.mu.RLock()
	defer t.mu.RUnlock()
	out:= make([]Candidate, 0, len(entries))
	for _, e:= range entries {
		id:= t.resolveAlias(e.targetID)
		out = append(out, Candidate{Target: t.internedByID[id], Priority: e.priority})
	}
	return out
}

// LookupSuffix scans every key ending with suffix, unions their candidate
// lists, and returns them sorted by priority descending.
func (t *Table) LookupSuffix(suffix string) []Candidate {
	t.mu.RLock()
	var keys []string
	for k:= range t.byKey {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			keys = append(keys, k)
		}
	}
	t.mu.RUnlock()

	byTarget:= make(map[string]int16)
	var order []string
	for _, k:= range keys {
		for _, c:= range t.Lookup(k) {
			if existing, ok:= byTarget[c.Target]; !ok || c.Priority > existing {
				if !ok {
					order = append(order, c.Target)
				}
				byTarget[c.Target] = c.Priority
			}
		}
	}
	out:= make([]Candidate, 0, len(order))
	for _, target:= range order {
		out = append(out, Candidate{Target: target, Priority: byTarget[target]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// SetAlias records that fromTarget should be treated as toTarget (used to
// canonicalize rewritten labels, e.g. after a macro-generated name is
// sanitized).
func (t *Table) SetAlias(fromTarget, toTarget string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from:= t.intern(fromTarget)
	to:= t.intern(toTarget)
	t.aliases[from] = to
	t.mutated = true
}

// SetPopularity records the external popularity signal for a target.
func (t *Table) SetPopularity(target string, popularity uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id:= t.intern(target)
	t.popularity[id] = popularity
	t.mutated = true
}

// Popularity returns the last recorded popularity for a target, or 0.
func (t *Table) Popularity(target string) uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok:= t.internedByString[target]
	if !ok {
		return 0
	}
	return t.popularity[id]
}

// SetJarCtime records the last-observed ctime (seconds since epoch) of the
// jar a target produced, used by the indexer to skip re-scanning unchanged
// jars.
func (t *Table) SetJarCtime(target string, ctime uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id:= t.intern(target)
	t.jarCtime[id] = ctime
	t.mutated = true
}

func (t *Table) JarCtime(target string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok:= t.internedByString[target]
	if !ok {
		return 0
	}
	return t.jarCtime[id]
}

// snapshot is used by the serializer; it flattens the table's internal
// maps without exposing the locking details to the encode/decode code.
type snapshot struct {
	internedByID map[uint64]string
	byKey map[string][]entry
	jarCtime map[uint64]uint64
	popularity map[uint64]uint16
	aliases map[uint64]uint64
}

func (t *Table) snapshot() snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byKey:= make(map[string][]entry, len(t.byKey))
	for k, list:= range t.byKey {
		list.mu.Lock()
		byKey[k] = append([]entry(nil), list.entries...)
		list.mu.Unlock()
	}
	interned:= make(map[uint64]string, len(t.internedByID))
	for id, s:= range t.internedByID {
		interned[id] = s
	}
	return snapshot{
		internedByID: interned,
		byKey: byKey,
		jarCtime: t.jarCtime,
		popularity: t.popularity,
		aliases: t.aliases,
	}
}
