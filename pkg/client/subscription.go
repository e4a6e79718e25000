package client

import (
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

// Subscription is the handle for one subscribed channel. Two subscriptions
// for the same identifier are the same subscription.
type Subscription struct {
	client    *Client
	id        channel.Identifier
	onMessage func(*wire.Message)
}

// Identifier returns the subscribed channel.
func (s *Subscription) Identifier() channel.Identifier { return s.id }

// Equal compares identifiers.
func (s *Subscription) Equal(other *Subscription) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.id.Equal(other.id)
}

// Send performs action on the channel with payload's fields as arguments.
// Nothing is sent when the command cannot be built; the build error is
// returned. Otherwise it behaves like Client.Send.
func (s *Subscription) Send(action string, payload any, done func(error)) error {
	text, err := wire.EncodeMessage(s.id, action, payload)
	if err != nil {
		s.client.logger.Debug("message command not built", "identifier", s.id.String(), "error", err)
		return err
	}
	return s.client.Send(text, done)
}

// Unsubscribe is shorthand for Client.Unsubscribe.
func (s *Subscription) Unsubscribe() bool {
	return s.client.Unsubscribe(s)
}

func (s *Subscription) deliver(msg *wire.Message) {
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}
