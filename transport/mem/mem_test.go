package mem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	f := NewFabric(2)
	a := f.Endpoint(0)
	b := f.Endpoint(1)

	buf := make([]byte, 3)
	recvReq, err := b.Irecv(0, 7, buf)
	require.NoError(t, err)

	sendReq, err := a.Isend(1, 7, []byte{1, 2, 3})
	require.NoError(t, err)

	require.NoError(t, sendReq.Wait(context.Background()))
	require.NoError(t, recvReq.Wait(context.Background()))
	require.Equal(t, []byte{1, 2, 3}, buf)
}

func TestSizeMismatch(t *testing.T) {
	f := NewFabric(2)
	a := f.Endpoint(0)
	b := f.Endpoint(1)

	recvReq, err := b.Irecv(0, 1, make([]byte, 4))
	require.NoError(t, err)

	sendReq, err := a.Isend(1, 1, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, sendReq.Wait(context.Background()))

	require.Error(t, recvReq.Wait(context.Background()))
}

func TestOutOfRange(t *testing.T) {
	f := NewFabric(2)
	a := f.Endpoint(0)
	_, err := a.Isend(5, 0, nil)
	require.Error(t, err)
	_, err = a.Irecv(5, 0, nil)
	require.Error(t, err)
}
