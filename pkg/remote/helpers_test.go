package remote

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/beemesh/distributor/pkg/identity"
)

func newPeerID(t *testing.T) peer.ID {
	t.Helper()
	k, err := identity.NewNodeKey()
	require.NoError(t, err)
	return k.ID
}
