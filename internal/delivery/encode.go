package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/envdata"
)

const DefaultMaxPayload = 1024

var ErrPayloadOverflow = fmt.Errorf("json payload overflow")

type jsonReading struct {
	Sensor string `json:"sensor"`
	Type   string `json:"type"`
	Value  int32  `json:"value"`
	Shift  int8   `json:"shift"`
}

// Encoder renders snapshot as JSON array into buffer bounded by Max.
// Buffer is reused, result is valid until next Encode.
type Encoder struct {
	Max int
	buf bytes.Buffer
	tmp []jsonReading
}

func NewEncoder(max int) *Encoder {
	if max <= 0 {
		max = DefaultMaxPayload
	}
	e := &Encoder{Max: max}
	e.buf.Grow(max)
	return e
}

func (e *Encoder) Encode(s *envdata.Snapshot) ([]byte, error) {
	e.tmp = e.tmp[:0]
	for _, r := range s.Readings() {
		e.tmp = append(e.tmp, jsonReading{
			Sensor: r.Sensor,
			Type:   r.Kind.String(),
			Value:  r.Value,
			Shift:  r.Shift,
		})
	}
	if e.tmp == nil {
		e.tmp = []jsonReading{}
	}
	e.buf.Reset()
	enc := json.NewEncoder(&limitWriter{w: &e.buf, n: e.Max + 1})
	if err := enc.Encode(e.tmp); err != nil {
		return nil, errors.Annotatef(err, "json encode readings=%d", len(e.tmp))
	}
	b := bytes.TrimSuffix(e.buf.Bytes(), []byte{'\n'})
	if len(b) > e.Max {
		return nil, errors.Annotatef(ErrPayloadOverflow, "size=%d max=%d", len(b), e.Max)
	}
	return b, nil
}

// n includes room for encoder trailing newline
type limitWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if len(p) > l.n {
		return 0, errors.Annotatef(ErrPayloadOverflow, "max=%d", l.n-1)
	}
	l.n -= len(p)
	return l.w.Write(p)
}
