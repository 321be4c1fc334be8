package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Meta page — page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (starting right after the common PageHeader at offset 10):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────────────────────
//  10      4     Magic          uint32 LE, 0x4D4E5351 ("MNSQ")
//  14      2     Version        uint16 LE
//  16      2     PageSize       uint16 LE
//  18      4     CatalogRoot    uint32 LE (PageID of the catalog root page)
//  22      4     FirstBitmap    uint32 LE (always 1)
//  26      4     NextPageID     uint32 LE (the disk manager's extent count)
//  ...     ...   reserved, zero-filled up to the trailing CRC
//
// The trailing CRCSize bytes hold the common page checksum.

const (
	MetaMagic          uint32 = 0x4D4E5351 // "MNSQ"
	CurrentMetaVersion uint16 = 1

	metaMagicOff      = PageHeaderSize     // 10
	metaVersionOff    = metaMagicOff + 4   // 14
	metaPageSizeOff   = metaVersionOff + 2 // 16
	metaCatalogOff    = metaPageSizeOff + 2
	metaFirstBitmapOff = metaCatalogOff + 4
	metaNextPageOff   = metaFirstBitmapOff + 4

	// FirstBitmapPageID is always page 1 — the first extent's bitmap page
	// immediately follows the meta page.
	FirstBitmapPageID PageID = 1
)

// MetaPage is the parsed contents of page 0.
type MetaPage struct {
	Version     uint16
	PageSize    uint16
	CatalogRoot PageID
	FirstBitmap PageID
	NextPageID  PageID
}

// NewMetaPage returns the meta page for a freshly created, empty database.
func NewMetaPage(pageSize int) *MetaPage {
	return &MetaPage{
		Version:     CurrentMetaVersion,
		PageSize:    uint16(pageSize),
		CatalogRoot: InvalidPageID,
		FirstBitmap: FirstBitmapPageID,
		NextPageID:  1, // extent count: the first extent, bitmap at page 1
	}
}

// MarshalMetaPage serializes m into a full page buffer, CRC included.
func MarshalMetaPage(m *MetaPage, pageSize int) []byte {
	buf := NewPage(pageSize, PageTypeMeta, MetaPageID)
	binary.LittleEndian.PutUint32(buf[metaMagicOff:], MetaMagic)
	binary.LittleEndian.PutUint16(buf[metaVersionOff:], m.Version)
	binary.LittleEndian.PutUint16(buf[metaPageSizeOff:], m.PageSize)
	binary.LittleEndian.PutUint32(buf[metaCatalogOff:], uint32(m.CatalogRoot))
	binary.LittleEndian.PutUint32(buf[metaFirstBitmapOff:], uint32(m.FirstBitmap))
	binary.LittleEndian.PutUint32(buf[metaNextPageOff:], uint32(m.NextPageID))
	SetPageCRC(buf)
	return buf
}

// UnmarshalMetaPage parses page 0, validating magic, CRC and version.
func UnmarshalMetaPage(buf []byte) (*MetaPage, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("meta page: buffer too small (%d bytes)", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("meta page: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[metaMagicOff:])
	if magic != MetaMagic {
		return nil, fmt.Errorf("meta page: bad magic 0x%08x, expected 0x%08x", magic, MetaMagic)
	}
	m := &MetaPage{
		Version:     binary.LittleEndian.Uint16(buf[metaVersionOff:]),
		PageSize:    binary.LittleEndian.Uint16(buf[metaPageSizeOff:]),
		CatalogRoot: PageID(binary.LittleEndian.Uint32(buf[metaCatalogOff:])),
		FirstBitmap: PageID(binary.LittleEndian.Uint32(buf[metaFirstBitmapOff:])),
		NextPageID:  PageID(binary.LittleEndian.Uint32(buf[metaNextPageOff:])),
	}
	if m.Version != CurrentMetaVersion {
		return nil, fmt.Errorf("meta page: unsupported version %d (this build supports %d)", m.Version, CurrentMetaVersion)
	}
	if int(m.PageSize) < MinPageSize || int(m.PageSize) > MaxPageSize {
		return nil, fmt.Errorf("meta page: page size %d out of range [%d..%d]", m.PageSize, MinPageSize, MaxPageSize)
	}
	return m, nil
}
