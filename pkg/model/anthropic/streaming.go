package anthropic

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// sseEvent is one decoded Server-Sent Events frame. Multi-line data fields
// are joined with newlines per the SSE wire format.
type sseEvent struct {
	Name string
	Data string
}

// sseDecoder incrementally parses an SSE byte stream into events.
type sseDecoder struct {
	scanner *bufio.Scanner
	name    string
	data    []string
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseDecoder{scanner: scanner}
}

// Next returns the following event, io.EOF at end of stream, or the scanner
// error. Frames without data are skipped.
func (d *sseDecoder) Next() (sseEvent, error) {
	for d.scanner.Scan() {
		line := strings.TrimSuffix(d.scanner.Text(), "\r")
		switch {
		case line == "":
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment line, keep-alive
		case strings.HasPrefix(line, "event:"):
			d.name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			d.data = append(d.data, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	if ev, ok := d.flush(); ok {
		return ev, nil
	}
	return sseEvent{}, io.EOF
}

func (d *sseDecoder) flush() (sseEvent, bool) {
	name := d.name
	d.name = ""
	if len(d.data) == 0 {
		return sseEvent{}, false
	}
	ev := sseEvent{Name: name, Data: strings.Join(d.data, "\n")}
	d.data = d.data[:0]
	return ev, true
}

// consumeSSE drains an SSE stream, invoking fn for each event carrying data.
// The context is checked between events so cancellation cuts the stream off.
func consumeSSE(ctx context.Context, r io.Reader, fn func(event, data string) error) error {
	dec := newSSEDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev.Name, ev.Data); err != nil {
			return err
		}
	}
}
