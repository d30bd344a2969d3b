// Package mem provides the paged guest address space.
package mem

import (
	"github.com/sarchlab/rvemu/fault"
)

// Default bounds for the string and buffer helpers.
const (
	// DefaultMaxString bounds MemString reads.
	DefaultMaxString = 1024
	// DefaultMaxBuffer bounds Buffer assembly.
	DefaultMaxBuffer = 4096
)

// MemCpy copies a host buffer into guest memory page by page,
// materializing destination pages through the page-fault path.
func (m *Memory) MemCpy(dst uint64, src []byte) error {
	for len(src) > 0 {
		off := dst & PageMask
		n := PageSize - off
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}
		p, err := m.getWritablePage(pageNumber(dst))
		if err != nil {
			return err
		}
		if p.Trapped() {
			for i := uint64(0); i < n; i++ {
				p.trap(p, off+i, 1, true, uint64(src[i]))
			}
		} else {
			copy(p.Data[off:off+n], src[:n])
		}
		dst += n
		src = src[n:]
	}
	return nil
}

// MemCpyOut copies guest memory into a host buffer page by page.
func (m *Memory) MemCpyOut(dst []byte, src uint64) error {
	for len(dst) > 0 {
		off := src & PageMask
		n := PageSize - off
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}
		p, err := m.getReadablePage(pageNumber(src))
		if err != nil {
			return err
		}
		if p.Trapped() {
			for i := uint64(0); i < n; i++ {
				dst[i] = byte(p.trap(p, off+i, 1, false, 0))
			}
		} else {
			copy(dst[:n], p.Data[off:off+n])
		}
		src += n
		dst = dst[n:]
	}
	return nil
}

// MemSet fills length bytes of guest memory with value.
func (m *Memory) MemSet(dst uint64, value uint8, length uint64) error {
	for length > 0 {
		off := dst & PageMask
		n := PageSize - off
		if n > length {
			n = length
		}
		p, err := m.getWritablePage(pageNumber(dst))
		if err != nil {
			return err
		}
		if p.Trapped() {
			for i := uint64(0); i < n; i++ {
				p.trap(p, off+i, 1, true, uint64(value))
			}
		} else {
			for i := uint64(0); i < n; i++ {
				p.Data[off+i] = value
			}
		}
		dst += n
		length -= n
	}
	return nil
}

// MemCmp compares length bytes of guest memory at a1 and a2, with
// memcmp semantics.
func (m *Memory) MemCmp(a1, a2 uint64, length uint64) (int, error) {
	for i := uint64(0); i < length; i++ {
		b1, err := m.Read8(a1 + i)
		if err != nil {
			return 0, err
		}
		b2, err := m.Read8(a2 + i)
		if err != nil {
			return 0, err
		}
		if b1 != b2 {
			if b1 < b2 {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

// MemView presents [addr, addr+length) to cb as a contiguous host slice.
// When the range lies within one page the slice aliases the page backing
// (zero copy); otherwise a bounded temporary buffer is assembled. The
// slice is only valid for the duration of the callback.
func (m *Memory) MemView(addr uint64, length uint64, cb func(data []byte) error) error {
	off := addr & PageMask
	if off+length <= PageSize {
		p, err := m.getReadablePage(pageNumber(addr))
		if err != nil {
			return err
		}
		if !p.Trapped() {
			return cb(p.Data[off : off+length])
		}
	}
	buf, err := m.Buffer(addr, length, DefaultMaxBuffer)
	if err != nil {
		return err
	}
	return cb(buf)
}

// Buffer gathers [addr, addr+length) into a host buffer, failing when
// length exceeds maxlen.
func (m *Memory) Buffer(addr uint64, length uint64, maxlen uint64) ([]byte, error) {
	if length > maxlen {
		return nil, fault.New(fault.StringOverLimit,
			"buffer over limit", addr)
	}
	buf := make([]byte, length)
	if err := m.MemCpyOut(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// Strlen returns the length of the NUL-terminated string at addr,
// scanning at most maxlen bytes.
func (m *Memory) Strlen(addr uint64, maxlen uint64) (uint64, error) {
	for i := uint64(0); i < maxlen; i++ {
		b, err := m.Read8(addr + i)
		if err != nil {
			return 0, err
		}
		if b == 0 {
			return i, nil
		}
	}
	return 0, fault.New(fault.StringOverLimit, "string over limit", addr)
}

// MemString reads the NUL-terminated string at addr, bounded by maxlen.
func (m *Memory) MemString(addr uint64, maxlen uint64) (string, error) {
	n, err := m.Strlen(addr, maxlen)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := m.MemCpyOut(buf, addr); err != nil {
		return "", err
	}
	return string(buf), nil
}
