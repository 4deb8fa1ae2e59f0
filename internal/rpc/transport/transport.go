// Package transport abstracts the connection under a console client.
package transport

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Read and Write after Close.
var ErrTransportClosed = errors.New("transport is closed")

// Transport is a bidirectional message channel.
type Transport interface {
	// ID is unique per connection.
	ID() string

	// Read blocks for the next message. io.EOF means a clean close.
	Read(ctx context.Context) ([]byte, error)

	Write(ctx context.Context, data []byte) error

	// Close is safe to call more than once.
	Close() error

	Done() <-chan struct{}
}
