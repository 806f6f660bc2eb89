package datasource

import "errors"

// Memory is an in-memory Source over fixed fields and rows. It is used for
// already-materialized data and as a stand-in source in tests.
type Memory struct {
	fields []Field
	rows   []Row
	pos    int
	closed bool
}

// NewMemory returns a Memory source. rows are not copied.
func NewMemory(fields []Field, rows []Row) *Memory {
	return &Memory{fields: fields, rows: rows}
}

var errClosed = errors.New("datasource: source closed")

func (m *Memory) Fields() ([]Field, error) {
	if m.closed {
		return nil, errClosed
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out, nil
}

func (m *Memory) ReadRows(max int) ([]Row, error) {
	if m.closed {
		return nil, errClosed
	}
	remaining := len(m.rows) - m.pos
	n := remaining
	if max > 0 && max < n {
		n = max
	}
	out := m.rows[m.pos : m.pos+n]
	m.pos += n
	return out, nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}
