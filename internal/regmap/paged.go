// Package regmap hides the DAC38RF8x page-select indirection.
//
// A full converter address carries the page in the bits above the low
// byte: 0x1xx multi-DUC1, 0x2xx multi-DUC2, 0x4xx DIG_MISC. Pages combine
// by OR, so 0x3xx writes both DUC pages at once.
package regmap

import (
	"errors"
	"fmt"
)

// DefaultPageRegister is the page-select register of the DAC38RF8x.
const DefaultPageRegister = 0x09

const maxPage = 0x7

// ErrInvalidPage is returned for addresses or page values outside 0-7.
var ErrInvalidPage = errors.New("invalid register page")

// Bus moves page-relative frames. bitbang.ConverterBus implements it.
type Bus interface {
	Write(offset, data uint32) error
	Read(offset uint32) (uint32, error)
}

// PagedMap is the only writer of the page-select register. It remembers
// the page latched in hardware and skips redundant selects.
type PagedMap struct {
	bus     Bus
	pageReg uint32
	page    uint32
	known   bool
}

func New(bus Bus, pageRegister uint32) *PagedMap {
	return &PagedMap{bus: bus, pageReg: pageRegister}
}

// Split returns the page and in-page offset of a full address.
func Split(addr uint32) (page, offset uint32) {
	return addr >> 8, addr & 0xFF
}

// Write selects the page of addr if needed and writes value at its offset.
// A write addressed to the page-select register is a page select.
func (m *PagedMap) Write(addr, value uint32) error {
	page, offset := Split(addr)
	if page > maxPage {
		return fmt.Errorf("%w: address 0x%04X", ErrInvalidPage, addr)
	}
	if offset == m.pageReg {
		return m.selectPage(value, true)
	}
	if err := m.selectPage(page, false); err != nil {
		return err
	}
	return m.bus.Write(offset, value)
}

// Read selects the page of addr if needed and reads its offset.
// The page-select register is read without changing the page.
func (m *PagedMap) Read(addr uint32) (uint32, error) {
	page, offset := Split(addr)
	if page > maxPage {
		return 0, fmt.Errorf("%w: address 0x%04X", ErrInvalidPage, addr)
	}
	if offset != m.pageReg {
		if err := m.selectPage(page, false); err != nil {
			return 0, err
		}
	}
	return m.bus.Read(offset)
}

// Page reports the cached page and whether it is known.
func (m *PagedMap) Page() (uint32, bool) {
	return m.page, m.known
}

// Invalidate forgets the cached page; the next access always selects.
// Call it after anything that may change the page behind the map's back,
// such as a hardware reset.
func (m *PagedMap) Invalidate() {
	m.known = false
}

func (m *PagedMap) selectPage(page uint32, force bool) error {
	if page > maxPage {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	if !force && m.known && m.page == page {
		return nil
	}

	// a failed select leaves the hardware page unknown
	m.known = false
	if err := m.bus.Write(m.pageReg, page); err != nil {
		return fmt.Errorf("select page %d: %w", page, err)
	}
	m.page = page
	m.known = true
	return nil
}
