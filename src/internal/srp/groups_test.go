// FILE: srpauth/src/internal/srp/groups_test.go
package srp

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroups(t *testing.T) {
	for _, tt := range []struct {
		Group *Group
		Bits  int
		G     int64
	}{
		{Group2048, 2048, 2},
		{Group3072, 3072, 5},
		{Group4096, 4096, 5},
	} {
		t.Run(tt.Group.Name, func(t *testing.T) {
			assert.Equal(t, tt.Bits, tt.Group.N.BitLen())
			assert.Equal(t, tt.Bits/8, tt.Group.Size())
			assert.Equal(t, 0, tt.Group.G.Cmp(big.NewInt(tt.G)))
			assert.True(t, tt.Group.N.ProbablyPrime(8), "modulus must be prime")

			q := new(big.Int).Rsh(tt.Group.N, 1)
			assert.True(t, q.ProbablyPrime(8), "modulus must be a safe prime")

			found, ok := LookupGroup(tt.Group.Modulus())
			assert.True(t, ok)
			assert.True(t, found.Equal(tt.Group))
		})
	}
}

func TestLookupGroup(t *testing.T) {
	padded := append([]byte{0, 0}, Group2048.Modulus()...)
	g, ok := LookupGroup(padded)
	assert.True(t, ok, "leading zero bytes are ignored")
	assert.True(t, g.Equal(Group2048))

	g, ok = LookupGroup([]byte{0x17})
	assert.False(t, ok)
	assert.Nil(t, g)

	assert.False(t, Group2048.Equal(Group3072))
	assert.False(t, Group2048.Equal(nil))
}
