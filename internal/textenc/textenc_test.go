package textenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		charset string
		raw     []byte
		want    string
	}{
		{charset: "cp437", raw: []byte("plain/ascii.txt"), want: "plain/ascii.txt"},
		{charset: "cp437", raw: []byte{'f', 0x81, 'r'}, want: "für"},
		{charset: "CP850", raw: []byte{0x9b}, want: "ø"},
		{charset: "cp866", raw: []byte{0x8f, 0xe0, 0xa8}, want: "При"},
		{charset: "latin1", raw: []byte{0xe9}, want: "é"},
	}
	for _, tt := range tests {
		t.Run(tt.charset+"/"+tt.want, func(t *testing.T) {
			t.Parallel()
			d, err := Lookup(tt.charset)
			require.NoError(t, err)
			got, err := d.Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()

	_, err := Lookup("ebcdic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cp437")
}
