package slab

import "fmt"

const (
	// Magic is "PERCOLAT" read as a little-endian u64.
	Magic uint64 = 0x504552434f4c4154

	VersionV1 uint32 = 1

	MaxAccounts   = 4096
	BitmapWords   = MaxAccounts / 64
	AccountStride = 240

	HeaderLen = 32
	ConfigOff = HeaderLen
	ConfigLen = 192
	EngineOff = ConfigOff + ConfigLen
	EngineLen = 192
	ParamsOff = EngineOff + EngineLen
	ParamsLen = 144
	BitmapOff = ParamsOff + ParamsLen
	BitmapLen = BitmapWords * 8

	AccountsOff = BitmapOff + BitmapLen

	SlabLen = AccountsOff + MaxAccounts*AccountStride
)

// Layout pins the absolute offsets of every region for one slab version.
type Layout struct {
	Version       uint32
	ConfigOff     int
	EngineOff     int
	ParamsOff     int
	BitmapOff     int
	AccountsOff   int
	AccountStride int
	MaxAccounts   int
}

var layouts = map[uint32]Layout{
	VersionV1: {
		Version:       VersionV1,
		ConfigOff:     ConfigOff,
		EngineOff:     EngineOff,
		ParamsOff:     ParamsOff,
		BitmapOff:     BitmapOff,
		AccountsOff:   AccountsOff,
		AccountStride: AccountStride,
		MaxAccounts:   MaxAccounts,
	},
}

// LayoutFor returns the region offsets for a header version.
func LayoutFor(version uint32) (Layout, error) {
	l, ok := layouts[version]
	if !ok {
		return Layout{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedSlab, version)
	}
	return l, nil
}

func (l Layout) accountOffset(idx int) int {
	return l.AccountsOff + idx*l.AccountStride
}

// Len is the total slab size implied by the layout.
func (l Layout) Len() int {
	return l.accountOffset(l.MaxAccounts)
}
