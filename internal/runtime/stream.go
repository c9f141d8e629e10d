package runtime

import (
	"github.com/drblury/replyflow/internal/runtime/correlation"
)

// ReplyStream is the subscription Call opened on a correlation id. It was
// attached before the request left, so it sees every reply.
type ReplyStream struct {
	*correlation.Subscription
	buffer int
}

// Subscribe attaches another observer to the same correlation id. It only
// sees replies arriving after it subscribed.
func (s *ReplyStream) Subscribe() (*ReplyStream, error) {
	sub, err := s.Observe(s.buffer)
	if err != nil {
		return nil, err
	}
	return &ReplyStream{Subscription: sub, buffer: s.buffer}, nil
}
