package harness

import "context"

// Snapshot is the page state captured when a journey fails
type Snapshot struct {
	Screenshot []byte
	HTML       string
}

// Driver operates the UI the way a user would. Read methods report whether
// the element is currently present instead of waiting for it.
type Driver interface {
	Open(ctx context.Context) error
	ClickStart(ctx context.Context) error
	ClickCheck(ctx context.Context) error
	StatusURL(ctx context.Context) (url string, ok bool, err error)
	StatusText(ctx context.Context) (text string, ok bool, err error)
	Alert(ctx context.Context) (text string, ok bool, err error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	Close() error
}
