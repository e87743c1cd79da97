// Package dialog models the modal dialogs the wizard UI can raise. Requests
// and responses are closed sets of concrete types, and a Dispatcher owned by
// the application shows at most one at a time.
package dialog

import (
	"errors"
	"fmt"

	"storybooth/story"
)

// Request is one of Confirm, Alert or Welcome.
type Request interface {
	isRequest()
	// cancel is the response used when the dialog is dismissed.
	cancel() Response
	accepts(Response) bool
}

// Response is one of Confirmed, Acknowledged or Identified.
type Response interface {
	isResponse()
}

type Confirm struct {
	Title       string
	Description string
	ConfirmText string
	CancelText  string
}

type Alert struct {
	Title       string
	Description string
	ButtonText  string
}

// Welcome asks the contributor to identify themselves before recording.
type Welcome struct {
	Greeting string
}

func (Confirm) isRequest() {}
func (Alert) isRequest()   {}
func (Welcome) isRequest() {}

func (Confirm) cancel() Response { return Confirmed{OK: false} }
func (Alert) cancel() Response   { return Acknowledged{} }
func (Welcome) cancel() Response { return Identified{Cancelled: true} }

func (Confirm) accepts(r Response) bool { _, ok := r.(Confirmed); return ok }
func (Alert) accepts(r Response) bool   { _, ok := r.(Acknowledged); return ok }
func (Welcome) accepts(r Response) bool { _, ok := r.(Identified); return ok }

type Confirmed struct {
	OK bool
}

type Acknowledged struct{}

// Identified carries the welcome form. Cancelled is set when the form was
// dismissed without submitting.
type Identified struct {
	Contributor story.Contributor
	Cancelled   bool
}

func (Confirmed) isResponse()    {}
func (Acknowledged) isResponse() {}
func (Identified) isResponse()   {}

// WithDefaults fills empty button texts.
func (c Confirm) WithDefaults() Confirm {
	if c.ConfirmText == "" {
		c.ConfirmText = "Confirm"
	}
	if c.CancelText == "" {
		c.CancelText = "Cancel"
	}
	return c
}

func (a Alert) WithDefaults() Alert {
	if a.ButtonText == "" {
		a.ButtonText = "OK"
	}
	return a
}

var (
	ErrNoDialog = errors.New("no dialog open")
	ErrOpen     = errors.New("a dialog is already open")
)

// MismatchError reports a response of the wrong type for the open request.
type MismatchError struct {
	Request  Request
	Response Response
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%T cannot answer %T", e.Response, e.Request)
}
