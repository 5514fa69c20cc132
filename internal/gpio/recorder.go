package gpio

import "sync"

type OpKind string

const (
	OpWrite     OpKind = "write"
	OpRead      OpKind = "read"
	OpDirection OpKind = "direction"
)

// Op is one port operation seen by a Recorder.
type Op struct {
	Kind  OpKind
	Value byte // written byte, read result, or direction outputs
	Mask  byte // direction mask
}

// Recorder is a Port that keeps every operation in order and answers
// reads from a script. Once the script is exhausted reads return Idle.
type Recorder struct {
	mu     sync.Mutex
	ops    []Op
	script []byte
	closed bool

	Idle byte
}

func NewRecorder(script ...byte) *Recorder {
	return &Recorder{script: script}
}

func (r *Recorder) Write(value byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrPortClosed
	}
	r.ops = append(r.ops, Op{Kind: OpWrite, Value: value})
	return nil
}

func (r *Recorder) Read() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrPortClosed
	}
	v := r.Idle
	if len(r.script) > 0 {
		v = r.script[0]
		r.script = r.script[1:]
	}
	r.ops = append(r.ops, Op{Kind: OpRead, Value: v})
	return v, nil
}

func (r *Recorder) SetDirection(mask, outputs byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrPortClosed
	}
	r.ops = append(r.ops, Op{Kind: OpDirection, Value: outputs, Mask: mask})
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Script appends bytes to be returned by subsequent reads.
func (r *Recorder) Script(values ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, values...)
}

// Ops returns a copy of the recorded operations.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Writes returns only the bytes written to the output register.
func (r *Recorder) Writes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, op := range r.ops {
		if op.Kind == OpWrite {
			out = append(out, op.Value)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
