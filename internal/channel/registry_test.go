package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendOnly struct{ ct ChannelType }

func (s sendOnly) Type() ChannelType      { return s.ct }
func (s sendOnly) Descriptor() Descriptor { return Descriptor{Type: s.ct, Name: "send only"} }

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(newStub("Stub")))
	assert.ErrorIs(t, reg.Register(newStub("stub")), ErrDuplicateChannel)
	assert.ErrorIs(t, reg.Register(newStub(" ")), ErrNoChannelType)
	assert.ErrorIs(t, reg.Register(nil), ErrNoChannelType)
	assert.Panics(t, func() { reg.MustRegister(newStub("stub")) })
}

func TestRegistryLookups(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister(newStub("zeta"), sendOnly{ct: "alpha"})

	assert.Equal(t, []ChannelType{"alpha", "zeta"}, reg.Types())

	desc, ok := reg.Descriptor(" ZETA")
	require.True(t, ok)
	assert.True(t, desc.Markdown)

	_, ok = As[Receiver](reg, "zeta")
	assert.True(t, ok)
	_, ok = As[Receiver](reg, "alpha")
	assert.False(t, ok)
	_, ok = As[Deliverer](reg, "missing")
	assert.False(t, ok)
	_, ok = As[Deliverer](nil, "zeta")
	assert.False(t, ok)
}
