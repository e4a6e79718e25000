package client

import (
	"github.com/google/uuid"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
)

// Tap observes every event of a client regardless of channel. All callbacks
// are optional. Callbacks for one kind of event run in arrival order.
type Tap struct {
	id string

	OnConnected    func(headers map[string]string)
	OnDisconnected func(reason string)
	OnCancelled    func()
	OnText         func(text string)
	OnBinary       func(data []byte)
	OnPing         func()
	OnPong         func()
	// OnMessage receives every envelope that decoded successfully.
	OnMessage func(msg *wire.Message)
}

// NewTap returns a tap with a fresh unique id.
func NewTap() *Tap {
	return &Tap{id: uuid.NewString()}
}

// ID identifies the tap for RemoveTap.
func (t *Tap) ID() string { return t.id }
