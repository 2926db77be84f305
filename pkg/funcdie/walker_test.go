package funcdie

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWith(tag dwarf.Tag, fields ...dwarf.Field) *dwarf.Entry {
	return &dwarf.Entry{Tag: tag, Field: fields}
}

func TestPcRangeHighPCAsOffset(t *testing.T) {
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x100)},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x20)}, // offset form, < low
	)
	low, high, ok := pcRange(e)
	require.True(t, ok)
	assert.Equal(t, uint64(0x100), low)
	assert.Equal(t, uint64(0x120), high)
}

func TestPcRangeHighPCAsAbsoluteAddress(t *testing.T) {
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x100)},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x200)}, // >= low, absolute
	)
	low, high, ok := pcRange(e)
	require.True(t, ok)
	assert.Equal(t, uint64(0x100), low)
	assert.Equal(t, uint64(0x200), high)
}

func TestPcRangeMissingAttrsFails(t *testing.T) {
	e := entryWith(dwarf.TagSubprogram)
	_, _, ok := pcRange(e)
	assert.False(t, ok)
}

func TestResolveConstFrameBaseLiteralAddr32(t *testing.T) {
	expr := []byte{0x03, 0x10, 0x20, 0x00, 0x00} // DW_OP_addr + 4-byte LE address
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrFrameBase, Val: expr},
	)
	fb := resolveConstFrameBase(e)
	require.NotNil(t, fb)
	assert.Equal(t, int64(0x2010), *fb)
}

func TestResolveConstFrameBaseNonAddrIsUnresolved(t *testing.T) {
	// DW_OP_call_frame_cfa (0x9c), the overwhelmingly common real-world case.
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrFrameBase, Val: []byte{0x9c}},
	)
	assert.Nil(t, resolveConstFrameBase(e))
}

func TestResolveFunctionNamePrefersLinkageName(t *testing.T) {
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLinkageName, Val: "_ZN4core4main17h0E"},
		dwarf.Field{Attr: dwarf.AttrName, Val: "main"},
	)
	assert.Equal(t, "_ZN4core4main17h0E", resolveFunctionName(nil, e))
}

func TestResolveFunctionNameFallsBackToName(t *testing.T) {
	e := entryWith(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrName, Val: "main"},
	)
	assert.Equal(t, "main", resolveFunctionName(nil, e))
}
