// Package mem provides the paged guest address space.
package mem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Page records are written as {page_number, attrs, variant_tag, bytes?}.
// Trap pages have no restorable callback, so they are recorded without
// bytes and restored as owned zero pages.

func attrByte(a Attr) uint8 {
	var b uint8
	if a.Read {
		b |= 1
	}
	if a.Write {
		b |= 2
	}
	if a.Exec {
		b |= 4
	}
	return b
}

func attrFromByte(b uint8) Attr {
	return Attr{Read: b&1 != 0, Write: b&2 != 0, Exec: b&4 != 0}
}

// SerializePages appends every active page to buf in ascending
// page-number order and returns the page count.
func (m *Memory) SerializePages(buf *bytes.Buffer) uint32 {
	pagenos := make([]uint64, 0, len(m.pages))
	for pageno := range m.pages {
		pagenos = append(pagenos, pageno)
	}
	sort.Slice(pagenos, func(i, j int) bool { return pagenos[i] < pagenos[j] })

	for _, pageno := range pagenos {
		p := m.pages[pageno]
		_ = binary.Write(buf, binary.LittleEndian, pageno)
		buf.WriteByte(attrByte(p.Attr))
		buf.WriteByte(uint8(p.Variant()))
		if p.Variant() != VariantTrap && p.Data != nil {
			buf.Write(p.Data)
		}
	}
	return uint32(len(pagenos))
}

// DeserializePages replaces the active page map with nPages records read
// from r. Shared and non-owned pages are restored as owned pages, since
// the snapshot carries their bytes but not their external backing.
func (m *Memory) DeserializePages(r *bytes.Reader, nPages uint32) error {
	m.pages = make(map[uint64]*Page, nPages)
	m.rdPageno = ^uint64(0)
	m.rdPage = nil
	m.wrPageno = ^uint64(0)
	m.wrPage = nil

	for i := uint32(0); i < nPages; i++ {
		var pageno uint64
		if err := binary.Read(r, binary.LittleEndian, &pageno); err != nil {
			return fmt.Errorf("reading page %d header: %w", i, err)
		}
		attr, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("reading page %d attrs: %w", i, err)
		}
		variant, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("reading page %d variant: %w", i, err)
		}

		p := NewPage(attrFromByte(attr))
		if Variant(variant) != VariantTrap {
			if _, err := io.ReadFull(r, p.Data); err != nil {
				return fmt.Errorf("reading page %d bytes: %w", i, err)
			}
		}
		m.pages[pageno] = p
	}

	// Pages holding execute-segment bytes may differ from the flat
	// fetch view now; resync it.
	if m.dcache != nil {
		first := pageNumber(m.execBase)
		last := pageNumber(m.execBase + uint64(len(m.execData)) + PageMask)
		for pageno := first; pageno < last; pageno++ {
			m.InvalidatePage(pageno)
		}
	}
	return nil
}
