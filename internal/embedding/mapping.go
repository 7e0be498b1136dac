package embedding

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/scrypster/filmqa/pkg/types"
)

// Mapping aligns identifiers with rows of an embedding table.
type Mapping struct {
	rows map[types.EntityID]int
	ids  []types.EntityID // by row; "" for unmapped rows

	// Skipped counts malformed lines and lines that would remap an
	// identifier or a row already seen.
	Skipped int
}

// LoadMapping reads a tab-separated "index<TAB>identifier" file.
func LoadMapping(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to open mapping %s: %w", path, err)
	}
	defer f.Close()

	m := &Mapping{rows: make(map[types.EntityID]int)}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			m.Skipped++
			continue
		}
		row, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || row < 0 {
			m.Skipped++
			continue
		}
		id := types.EntityID(strings.TrimSpace(fields[1]))
		if id == "" || !m.add(id, row) {
			m.Skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("embedding: failed to read mapping %s: %w", path, err)
	}

	if m.Skipped > 0 {
		log.Printf("embedding: skipped %d problematic lines in %s", m.Skipped, path)
	}
	return m, nil
}

// NewMapping builds a mapping where ids[i] is stored in row i.
func NewMapping(ids []types.EntityID) *Mapping {
	m := &Mapping{rows: make(map[types.EntityID]int, len(ids))}
	for i, id := range ids {
		if !m.add(id, i) {
			m.Skipped++
		}
	}
	return m
}

func (m *Mapping) add(id types.EntityID, row int) bool {
	if _, dup := m.rows[id]; dup {
		return false
	}
	if row < len(m.ids) && m.ids[row] != "" {
		return false
	}
	for len(m.ids) <= row {
		m.ids = append(m.ids, "")
	}
	m.rows[id] = row
	m.ids[row] = id
	return true
}

// Row returns the table row of id.
func (m *Mapping) Row(id types.EntityID) (int, bool) {
	row, ok := m.rows[id]
	return row, ok
}

// ID returns the identifier stored in row.
func (m *Mapping) ID(row int) (types.EntityID, bool) {
	if row < 0 || row >= len(m.ids) || m.ids[row] == "" {
		return "", false
	}
	return m.ids[row], true
}

// Len returns the number of mapped identifiers.
func (m *Mapping) Len() int {
	return len(m.rows)
}

// MaxRow returns the highest mapped row, or -1 when empty.
func (m *Mapping) MaxRow() int {
	return len(m.ids) - 1
}
