package doctor

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// checkClipboard round-trips a value through the system clipboard and puts
// the previous contents back.
func checkClipboard() Result {
	r := Result{Name: "Clipboard"}
	if clipboard.Unsupported {
		r.Pass = true
		r.Detail = "no clipboard utility found, receipt links are only printed"
		return r
	}

	prev, _ := clipboard.ReadAll()
	defer clipboard.WriteAll(prev)

	const probe = "storybooth-doctor-test"
	if err := clipboard.WriteAll(probe); err != nil {
		r.Detail = fmt.Sprintf("copy failed: %v", err)
		return r
	}
	got, err := clipboard.ReadAll()
	if err != nil {
		r.Detail = fmt.Sprintf("read back failed: %v", err)
		return r
	}
	if got != probe {
		r.Detail = fmt.Sprintf("read back %q, want %q", got, probe)
		return r
	}
	r.Pass = true
	r.Detail = "receipt links can be copied"
	return r
}
