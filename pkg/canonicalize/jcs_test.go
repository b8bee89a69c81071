package canonicalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysAndDropsWhitespace(t *testing.T) {
	out, err := JCS(map[string]any{"b": 1, "a": "x", "c": []int{3, 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":[3,2]}`, string(out))
}

func TestJCS_HonoursStructTags(t *testing.T) {
	type sample struct {
		Zeta  string `json:"zeta"`
		Alpha int64  `json:"alpha"`
		Skip  string `json:"-"`
	}
	out, err := JCS(sample{Zeta: "z", Alpha: 7, Skip: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":7,"zeta":"z"}`, string(out))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]string{"k": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(out))
}

func TestCanonicalHash_OrderIndependent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, HashPrefix))
	assert.Len(t, h1, len(HashPrefix)+64)
}

func TestJCS_RejectsUnmarshalable(t *testing.T) {
	_, err := JCS(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestNormalizeString_NFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	assert.Equal(t, NormalizeString(composed), NormalizeString(decomposed))
	assert.Equal(t, "send", NormalizeIdentifier("  SEND "))
}
