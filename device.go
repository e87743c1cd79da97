package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"storybooth/capture"
)

// pickDevice lets the user choose one of devices with the arrow keys.
func pickDevice(title string, devices []capture.DeviceInfo, in *os.File, out io.Writer) (*capture.DeviceInfo, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	if len(devices) == 1 {
		fmt.Fprintf(out, "Using device: %s\n", devices[0].Name)
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprintf(out, "%s (↑/↓, Enter to confirm, Esc to cancel):\r\n\r\n", title)
		for i, d := range devices {
			name := d.Name
			if capture.IsBluetooth(d.Name) {
				name += " (Bluetooth)"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %s\x1b[0m\r\n", name)
			} else {
				fmt.Fprintf(out, "    %s\r\n", name)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Fprint(out, "\r\n")
				return &devices[cursor], nil
			case 3, 27, 'q': // Ctrl+C, Esc
				fmt.Fprint(out, "\r\n")
				return nil, nil
			case 'j':
				cursor = min(cursor+1, len(devices)-1)
			case 'k':
				cursor = max(cursor-1, 0)
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				cursor = max(cursor-1, 0)
			case 'B':
				cursor = min(cursor+1, len(devices)-1)
			}
		}

		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		render()
	}
}
