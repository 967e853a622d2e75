package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: " , ,", want: nil},
		{in: "kafka:9092", want: []string{"kafka:9092"}},
		{in: " a:9092, b:9092 ,,a:9092", want: []string{"a:9092", "b:9092"}},
		{in: "B,b", want: []string{"B", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.in))
		})
	}
}

func TestFoldKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "", want: ""},
		{in: "Mark TWAIN", want: "mark twain"},
		{in: "  Mark \t\n Twain ", want: "mark twain"},
		{in: "Stra\u00dfe", want: "strasse"},
		{in: "\ufb01ne", want: "fine"},
		{in: "Jose\u0301", want: "jos\u00e9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FoldKey(tt.in), "FoldKey(%q)", tt.in)
	}
}

func TestFoldKeyMatchesVariantSpellings(t *testing.T) {
	assert.Equal(t, FoldKey("Twain, Mark"), FoldKey("  TWAIN,   mark"))
	assert.NotEqual(t, FoldKey("Twain, Mark"), FoldKey("Twain Mark"))
}
