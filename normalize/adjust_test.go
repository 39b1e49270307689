package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjusters(t *testing.T) {
	regex, err := RegexExtract(`host=(\S+)`)
	require.NoError(t, err)

	tests := []struct {
		name    string
		adjust  Adjuster
		in      string
		want    string
		wantErr bool
	}{
		{name: "trim", adjust: Trim(), in: "  x \t", want: "x"},
		{name: "lowercase", adjust: Lowercase(), in: "EVIL.Example", want: "evil.example"},
		{name: "strip dot", adjust: StripDot(), in: "example.com.", want: "example.com"},
		{name: "unquote", adjust: Unquote(), in: `"quoted"`, want: "quoted"},
		{name: "regex capture", adjust: regex, in: "host=evil.example port=80", want: "evil.example"},
		{name: "regex no match", adjust: regex, in: "nothing here", wantErr: true},
		{name: "map hit", adjust: MapValues(map[string]string{"trojan": "malware"}), in: "trojan", want: "malware"},
		{name: "map miss", adjust: MapValues(map[string]string{"trojan": "malware"}), in: "worm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.adjust(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegexExtractWholeMatchWithoutGroups(t *testing.T) {
	adjust, err := RegexExtract(`\d+`)
	require.NoError(t, err)

	got, err := adjust("port 8080 open")
	require.NoError(t, err)
	assert.Equal(t, "8080", got)
}

func TestBuildAdjusterRejectsBadRegex(t *testing.T) {
	_, err := BuildAdjuster(AdjusterSpec{Name: "regex", Arg: "("})
	assert.Error(t, err)
}

func TestApplyChainStopsAtFirstFailure(t *testing.T) {
	failing := MapValues(map[string]string{})
	_, err := applyChain("x", []Adjuster{Trim(), failing, Lowercase()})
	assert.Error(t, err)
}
