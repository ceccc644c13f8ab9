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

package candidateindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Encode writes the table in the little-endian binary format of:
//
//	u64 string count, then per string: u16 length, bytes
//	u64 map entry count, then per key: u16 key length, bytes, then
//	 u64 entry count, then per entry: u16 priority, u64 target_id
//	u64 ctime count, then u64 per entry
//	u64 popularity count, then u16 per entry
//	u64 replacement-map (alias) count, then pairs of u64, u64
//
// The interned strings section is written in target-id order so Decode can
// rebuild the id<->string bijection positionally.
func (t *Table) Encode(w io.Writer) error {
	snap:= t.snapshot()
	bw:= bufio.NewWriter(w)

	maxID:= uint64(0)
	for id:= range snap.internedByID {
		if id+1 > maxID {
			maxID = id + 1
		}
	}
	if err:= writeU64(bw, maxID); err != nil {
		return err
	}
	for id:= uint64(0); id < maxID; id++ {
		s:= snap.internedByID[id]
		if err:= writeU16(bw, uint16(len(s))); err != nil {
			return err
		}
		if _, err:= bw.WriteString(s); err != nil {
			return err
		}
	}

	keys:= make([]string, 0, len(snap.byKey))
	for k:= range snap.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err:= writeU64(bw, uint64(len(keys))); err != nil {
		return err
	}
	for _, k:= range keys {
		if err:= writeU16(bw, uint16(len(k))); err != nil {
			return err
		}
		if _, err:= bw.WriteString(k); err != nil {
			return err
		}
		entries:= snap.byKey[k]
		if err:= writeU64(bw, uint64(len(entries))); err != nil {
			return err
		}
		for _, e:= range entries {
			if err:= writeU16(bw, uint16(e.priority)); err != nil {
				return err
			}
			if err:= writeU64(bw, e.targetID); err != nil {
				return err
			}
		}
	}

	ctimeIDs:= sortedKeysU64(snap.jarCtime)
	if err:= writeU64(bw, uint64(len(ctimeIDs))); err != nil {
		return err
	}
	for _, id:= range ctimeIDs {
		if err:= writeU64(bw, snap.jarCtime[id]); err != nil {
			return err
		}
	}

	popIDs:= sortedKeysU64(snap.popularity)
	if err:= writeU64(bw, uint64(len(popIDs))); err != nil {
		return err
	}
	for _, id:= range popIDs {
		if err:= writeU16(bw, snap.popularity[id]); err != nil {
			return err
		}
	}

	aliasIDs:= sortedKeysU64(snap.aliases)
	if err:= writeU64(bw, uint64(len(aliasIDs))); err != nil {
		return err
	}
	for _, from:= range aliasIDs {
		if err:= writeU64(bw, from); err != nil {
			return err
		}
		if err:= writeU64(bw, snap.aliases[from]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Decode reads a table previously written by Encode.
func Decode(r io.Reader) (*Table, error) {
	br:= bufio.NewReader(r)
	t:= New()

	stringCount, err:= readU64(br)
	if err != nil {
		return nil, fmt.Errorf("reading string count: %w", err)
	}
	for id:= uint64(0); id < stringCount; id++ {
		length, err:= readU16(br)
		if err != nil {
			return nil, fmt.Errorf("reading string length: %w", err)
		}
		buf:= make([]byte, length)
		if _, err:= io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading string bytes: %w", err)
		}
		s:= string(buf)
		t.internedByID[id] = s
		t.internedByString[s] = id
		if id+1 > t.nextID {
			t.nextID = id + 1
		}
	}

	keyCount, err:= readU64(br)
	if err != nil {
		return nil, fmt.Errorf("reading key count: %w", err)
	}
	for i:= uint64(0); i < keyCount; i++ {
		length, err:= readU16(br)
		if err != nil {
			return nil, fmt.Errorf("reading key length: %w", err)
		}
		buf:= make([]byte, length)
		if _, err:= io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading key bytes: %w", err)
		}
		key:= string(buf)

		entryCount, err:= readU64(br)
		if err != nil {
			return nil, fmt.Errorf("reading entry count: %w", err)
		}
		list:= &priorityList{entries: make([]entry, 0, entryCount)}
		for j:= uint64(0); j < entryCount; j++ {
			priority, err:= readU16(br)
			if err != nil {
				return nil, fmt.Errorf("reading priority: %w", err)
			}
			targetID, err:= readU64(br)
			if err != nil {
				return nil, fmt.Errorf("reading target id: %w", err)
			}
			list.entries = append(list.entries, entry{targetID: targetID, priority: int16(priority), seq: t.nextSeq})
			t.nextSeq++
		}
		t.byKey[key] = list
	}

	ctimeCount, err:= readU64(br)
	if err != nil {
		return nil, fmt.Errorf("reading ctime count: %w", err)
	}
	for id:= uint64(0); id < ctimeCount; id++ {
		v, err:= readU64(br)
		if err != nil {
			return nil, fmt.Errorf("reading ctime: %w", err)
		}
		t.jarCtime[id] = v
	}

	popCount, err:= readU64(br)
	if err != nil {
		return nil, fmt.Errorf("reading popularity count: %w", err)
	}
	for id:= uint64(0); id < popCount; id++ {
		v, err:= readU16(br)
		if err != nil {
			return nil, fmt.Errorf("reading popularity: %w", err)
		}
		t.popularity[id] = v
	}

	aliasCount, err:= readU64(br)
	if err != nil {
		return nil, fmt.Errorf("reading alias count: %w", err)
	}
	for i:= uint64(0); i < aliasCount; i++ {
		from, err:= readU64(br)
		if err != nil {
			return nil, fmt.Errorf("reading alias from: %w", err)
		}
		to, err:= readU64(br)
		if err != nil {
			return nil, fmt.Errorf("reading alias to: %w", err)
		}
		t.aliases[from] = to
	}

	return t, nil
}

// WriteFile persists the table to disk and clears the mutated flag on
// success.
func (t *Table) WriteFile(path string) error {
	f, err:= os.CreateTemp(filepath.Dir(path), ".index-*.tmp")
	if err != nil {
		return err
	}
	tmpPath:= f.Name()
	if err:= t.Encode(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err:= f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err:= os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	t.ClearMutated()
	return nil
}

func sortedKeysU64(m interface{}) []uint64 {
	var keys []uint64
	switch v:= m.(type) {
	case map[uint64]uint64:
		for k:= range v {
			keys = append(keys, k)
		}
	case map[uint64]uint16:
		for k:= range v {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err:= w.Write(buf[:])
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err:= w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err:= io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err:= io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}
