package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCombinedData(t *testing.T) {
	tests := []struct {
		cell string
		want bool
	}{
		{cell: `SERI:X\LOT:Y\SKT:01.02.2030\UBB:Z`, want: true},
		{cell: `LOT:25PCB00842\SKT:31.08.2029`, want: true},
		{cell: `lot:abc/ubb:123`, want: true},
		{cell: `SERİ:77/LOT:8`, want: true},
		{cell: `LOT:ABC`, want: false},
		{cell: `SKT:1.2.2030/LOT:A`, want: false},
		{cell: "", want: false},
		{cell: "   ", want: false},
		{cell: "Vida X", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCombinedData(tt.cell))
		})
	}
}

func TestExtractCombined(t *testing.T) {
	tests := []struct {
		name string
		cell string
		want *Extracted
	}{
		{
			name: "all four labels",
			cell: `SERI:X\LOT:Y\SKT:31.08.2029\UBB:Z`,
			want: &Extracted{Seri: "X", Lot: "Y", Skt: "2029-08-31", Ubb: "Z"},
		},
		{
			name: "single label still extracts",
			cell: "LOT:ABC",
			want: &Extracted{Lot: "ABC"},
		},
		{
			name: "slash separated date and trimmed captures",
			cell: " SERI:  A1 / SKT: 05/11/2027 ",
			want: &Extracted{Seri: "A1", Skt: "2027-11-05"},
		},
		{
			name: "lower case labels",
			cell: `lot:abc\ubb:8690000000001`,
			want: &Extracted{Lot: "abc", Ubb: "8690000000001"},
		},
		{
			name: "dotted capital I label",
			cell: "SERİ:S-9",
			want: &Extracted{Seri: "S-9"},
		},
		{
			name: "missing delimiter over-captures",
			cell: `SERI:ABC SKT:01.12.2025`,
			want: &Extracted{Seri: "ABC SKT:01.12.2025", Skt: "2025-12-01"},
		},
		{
			name: "single digit day does not match skt",
			cell: "SKT:1.12.2025",
			want: nil,
		},
		{
			name: "plain text",
			cell: "Vida X",
			want: nil,
		},
		{
			name: "empty",
			cell: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCombined(tt.cell)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestExtractedGetFollowsSubFields(t *testing.T) {
	e := Extracted{Seri: "s", Lot: "l", Skt: "2025-01-01", Ubb: "u"}
	got := make([]string, 0, len(SubFields))
	for _, f := range SubFields {
		got = append(got, e.Get(f))
	}
	assert.Equal(t, []string{"s", "l", "2025-01-01", "u"}, got)
	assert.Empty(t, e.Get("other"))
}

func TestExtractCombinedIsRepeatable(t *testing.T) {
	for _, cell := range []string{`SERI:X\LOT:Y\SKT:31.08.2029\UBB:Z`, `LOT:ABC`} {
		first := ExtractCombined(cell)
		second := ExtractCombined(cell)
		require.NotNil(t, first, cell)
		require.NotNil(t, second, cell)
		assert.Equal(t, *first, *second, cell)
		assert.NotSame(t, first, second, cell)
	}
}
