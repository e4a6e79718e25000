// Package transport defines the socket boundary the client drives. Concrete
// implementations live in the coderws and gorillaws subpackages.
package transport

import "errors"

var (
	// ErrNotConnected is handed to send completions when no socket is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned once a transport has been shut down for good.
	ErrClosed = errors.New("transport: closed")
)

// Transport is a persistent bidirectional socket. Connect and Disconnect
// return immediately; outcomes arrive through Events.
type Transport interface {
	// Connect opens the socket with headers sent on the handshake.
	Connect(headers map[string]string)
	// Disconnect closes the socket. It fires OnCancelled once closed.
	Disconnect()
	// SendText writes one text frame. done, if not nil, is called after the
	// write finished or failed.
	SendText(text string, done func(error))
	// SendBinary writes one binary frame.
	SendBinary(data []byte, done func(error))
	// SetEvents installs the callbacks. It must be called before Connect.
	SetEvents(Events)
}

// Events are the callbacks a Transport fires. Any field may be nil.
type Events struct {
	OnConnected    func(headers map[string]string)
	OnDisconnected func(reason string)
	OnCancelled    func()
	OnText         func(text string)
	OnBinary       func(data []byte)
	OnPing         func()
	OnPong         func()
}

func (e Events) FireConnected(headers map[string]string) {
	if e.OnConnected != nil {
		e.OnConnected(headers)
	}
}

func (e Events) FireDisconnected(reason string) {
	if e.OnDisconnected != nil {
		e.OnDisconnected(reason)
	}
}

func (e Events) FireCancelled() {
	if e.OnCancelled != nil {
		e.OnCancelled()
	}
}

func (e Events) FireText(text string) {
	if e.OnText != nil {
		e.OnText(text)
	}
}

func (e Events) FireBinary(data []byte) {
	if e.OnBinary != nil {
		e.OnBinary(data)
	}
}

func (e Events) FirePing() {
	if e.OnPing != nil {
		e.OnPing()
	}
}

func (e Events) FirePong() {
	if e.OnPong != nil {
		e.OnPong()
	}
}

// Complete calls done with err when done is not nil.
func Complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
