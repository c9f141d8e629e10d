package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/transport"
	"github.com/drblury/replyflow/transport/transporttest"
)

var _ transport.Config = (*transporttest.Config)(nil)

func TestTransportCloseClosesBoth(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}

	require.NoError(t, transport.Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)
}

type sharedPubSub struct {
	transporttest.Subscriber
	transporttest.Publisher
	closes int
}

func (s *sharedPubSub) Close() error {
	s.closes++
	return nil
}

func TestTransportCloseSharedInstanceOnce(t *testing.T) {
	shared := &sharedPubSub{}
	require.NoError(t, transport.Transport{Publisher: shared, Subscriber: shared}.Close())
	assert.Equal(t, 1, shared.closes)
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, transport.Transport{}.Close())
}
