// --- File: pkg/worker/interfaces.go ---
package worker

import (
	"context"
)

// CacheStorage is the origin-wide set of named cache buckets.
// Implementations must make Put atomic per key: a reader sees either the old
// or the new response, never a partial one.
type CacheStorage interface {
	// Open returns the named bucket, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)

	// Has reports whether a bucket with this name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys lists the names of every bucket in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes a bucket and all its entries. It reports false if the
	// bucket did not exist.
	Delete(ctx context.Context, name string) (bool, error)
}

// Bucket is a single named request → response store.
type Bucket interface {
	// Match returns the stored response for the request, or ok=false.
	Match(ctx context.Context, req *Request) (resp *Response, ok bool, err error)

	// Put stores the response under the request, replacing any prior entry.
	Put(ctx context.Context, req *Request, resp *Response) error

	// Keys lists the request identities currently stored.
	Keys(ctx context.Context) ([]string, error)
}

// Fetcher performs the network leg of a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Displayer shows and dismisses notifications on the user's devices.
type Displayer interface {
	// Show displays the descriptor and returns it with its assigned ID.
	// A descriptor whose Tag matches a visible notification replaces it.
	Show(ctx context.Context, d Descriptor) (Descriptor, error)

	// Close dismisses a displayed notification.
	Close(ctx context.Context, d Descriptor) error
}

// Client is one open application window.
type Client interface {
	ID() string
	URL() string
	Focus(ctx context.Context) error
}

// ClientSet is the live set of application windows under the worker's origin.
type ClientSet interface {
	// MatchAll returns the windows open at this moment, controlled or not.
	MatchAll(ctx context.Context) ([]Client, error)

	// OpenWindow opens a new window at the absolute URL.
	OpenWindow(ctx context.Context, url string) (Client, error)

	// Claim makes every open window controlled by the given cache version.
	Claim(ctx context.Context, version string) error
}
