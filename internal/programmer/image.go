package programmer

import (
	"fmt"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/hexfile"
)

// HexImage is a firmware image projected onto a page-aligned flash window.
// AddrFrom and AddrTo+1 are page aligned; bytes the hex file does not
// cover hold 0xFF, the erased-cell value.
type HexImage struct {
	Data       []byte
	Offset     uint32 // first data byte within the first page
	AddrFrom   uint32
	AddrTo     uint32
	TotalSize  int // padded, page-aligned size (== len(Data))
	ActualSize int // bytes actually present in the hex file
}

// Len returns the padded image length.
func (img *HexImage) Len() int {
	return len(img.Data)
}

// alignToPages widens [from, to] to page boundaries: the result starts on
// a page and ends one byte before the next page boundary after to.
func alignToPages(from, to, pageSize uint32) (uint32, uint32) {
	mask := pageSize - 1
	return from &^ mask, ((to + pageSize) &^ mask) - 1
}

// LoadHexImage loads an Intel-HEX file and shapes it for the given flash
// region: the covering range is widened to page boundaries, a file
// addressed relative to zero is translated up to the flash base, and the
// result is bounds-checked against the region. NVM controllers only
// erase and program whole pages; partial pages risk corrupting their
// neighbours.
func LoadHexImage(path string, flash device.FlashInfo) (*HexImage, error) {
	if flash.PageSize == 0 || flash.PageSize&(flash.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidArgument, flash.PageSize)
	}

	r, err := hexfile.ScanRange(path)
	if err != nil {
		return nil, err
	}

	from, to := alignToPages(r.From, r.To, flash.PageSize)
	size := to - from + 1
	offset := r.From & (flash.PageSize - 1)

	// Hex files produced from raw binaries are addressed from zero;
	// shift those up to the mapped flash base.
	base := from
	if from < flash.Start {
		from += flash.Start
		to += flash.Start
	}

	if to >= flash.Start+flash.Size {
		return nil, fmt.Errorf("image range 0x%04x..0x%04x: %w (flash 0x%04x..0x%04x)",
			from, to, ErrAddressOutOfRange, flash.Start, flash.Start+flash.Size-1)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	if err := hexfile.ReadInto(path, data, base); err != nil {
		return nil, err
	}

	return &HexImage{
		Data:       data,
		Offset:     offset,
		AddrFrom:   from,
		AddrTo:     to,
		TotalSize:  int(size),
		ActualSize: r.Actual,
	}, nil
}
