package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAssignment = `X,X_Well,Y,Y_Well
0,A1,0,B1
1,A2,1,B2
2,A3,,
`

const testBarcodeTable = `WellPosition,Name,Barcode
A1,Bc_1,AACGTGAT
A2,Bc_2,AAACATCG
A3,Bc_3,ATGCCTAA
B1,Bc_9,AGTGGTCA
B2,Bc_10,ACCACTGT
`

func TestParseWellAssignment(t *testing.T) {
	a, err := ParseWellAssignment([]byte(testAssignment))
	require.NoError(t, err)
	assert.True(t, a.HasRound(RoundX))
	assert.True(t, a.HasRound(RoundY))
	assert.False(t, a.HasRound(RoundZ))
}

func TestParseWellAssignmentErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "no round columns",
			data: "Foo,Bar\n1,2\n",
			want: "no round columns",
		},
		{
			name: "coordinate column without well column",
			data: "X,Y,Y_Well\n0,0,B1\n",
			want: "needs both",
		},
		{
			name: "half-filled pair",
			data: "X,X_Well\n0,\n",
			want: "has coordinate",
		},
		{
			name: "non-integer coordinate",
			data: "X,X_Well\nfoo,A1\n",
			want: "not a non-negative integer",
		},
		{
			name: "well with two coordinates",
			data: "X,X_Well\n0,A1\n1,A1\n",
			want: "coordinates 0 and 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWellAssignment([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFillProducesValidLegend(t *testing.T) {
	a, err := ParseWellAssignment([]byte(testAssignment))
	require.NoError(t, err)
	out, err := a.Fill([]byte(testBarcodeTable))
	require.NoError(t, err)

	l, err := ParseLegend(out)
	require.NoError(t, err)
	assert.Equal(t, []Round{RoundX, RoundY}, l.Rounds())
	assert.Equal(t, 3, len(l.Entries(RoundX)))
	assert.Equal(t, 2, len(l.Entries(RoundY)))

	c, ok := l.CoordOf(RoundX, "A3")
	require.True(t, ok)
	assert.Equal(t, 2, c)
	c, ok = l.CoordOf(RoundY, "B2")
	require.True(t, ok)
	assert.Equal(t, 1, c)
}

func TestFillUnmatchedRound(t *testing.T) {
	// The assignment references Z wells no barcode row covers.
	a, err := ParseWellAssignment([]byte("X,X_Well,Y,Y_Well,Z,Z_Well\n0,A1,0,B1,0,F12\n"))
	require.NoError(t, err)
	_, err = a.Fill([]byte(testBarcodeTable))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round Z")
}

func TestFillMissingColumns(t *testing.T) {
	a, err := ParseWellAssignment([]byte(testAssignment))
	require.NoError(t, err)
	_, err = a.Fill([]byte("Name,Barcode\nBc_1,ACGT\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WellPosition")
}
