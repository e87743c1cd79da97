package dialog

import (
	"sync"

	"storybooth/story"
)

// Handler receives the response to a request.
type Handler func(Response)

// Dispatcher holds the one open dialog. Handlers run after the dispatcher is
// unlocked and may open the next dialog.
type Dispatcher struct {
	mu      sync.Mutex
	current Request
	handler Handler
}

// Show opens req. It fails with ErrOpen while another dialog is showing.
func (d *Dispatcher) Show(req Request, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		return ErrOpen
	}
	d.current = req
	d.handler = h
	return nil
}

// Current returns the open request, or nil.
func (d *Dispatcher) Current() Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Dispatcher) Open() bool {
	return d.Current() != nil
}

// Resolve closes the open dialog with resp. The response type must match the
// request: Confirmed for Confirm, Acknowledged for Alert, Identified for
// Welcome. A Welcome is only resolved by a valid contributor.
func (d *Dispatcher) Resolve(resp Response) error {
	d.mu.Lock()
	req, h := d.current, d.handler
	if req == nil {
		d.mu.Unlock()
		return ErrNoDialog
	}
	if !req.accepts(resp) {
		d.mu.Unlock()
		return &MismatchError{Request: req, Response: resp}
	}
	if id, ok := resp.(Identified); ok && !id.Cancelled {
		c := id.Contributor.Normalize()
		if err := c.Validate(); err != nil {
			d.mu.Unlock()
			return err
		}
		resp = Identified{Contributor: c}
	}
	d.current, d.handler = nil, nil
	d.mu.Unlock()

	if h != nil {
		h(resp)
	}
	return nil
}

// Dismiss closes the open dialog with its cancel response.
func (d *Dispatcher) Dismiss() error {
	d.mu.Lock()
	req := d.current
	d.mu.Unlock()
	if req == nil {
		return ErrNoDialog
	}
	return d.Resolve(req.cancel())
}

// Identify is a convenience for resolving an open Welcome.
func (d *Dispatcher) Identify(c story.Contributor) error {
	return d.Resolve(Identified{Contributor: c})
}
