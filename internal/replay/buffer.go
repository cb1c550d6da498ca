package replay

// intBuffer is an append-only sequence of ints stored in fixed-size chunks.
// It never grows past maxChunks; a record that does not fit is dropped as a
// whole so that every stored record stays complete.
type intBuffer struct {
	chunkSize int
	maxChunks int
	chunks    [][]int
	size      int
	dropped   int
}

func newIntBuffer(chunkSize, maxChunks int) *intBuffer {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if maxChunks < 1 {
		maxChunks = 1
	}
	return &intBuffer{chunkSize: chunkSize, maxChunks: maxChunks}
}

// add appends rec and reports whether it was stored.
func (b *intBuffer) add(rec ...int) bool {
	if b.chunkSize*b.maxChunks-b.size < len(rec) {
		b.dropped++
		return false
	}
	for _, v := range rec {
		n := len(b.chunks)
		if n == 0 || len(b.chunks[n-1]) == b.chunkSize {
			b.chunks = append(b.chunks, make([]int, 0, b.chunkSize))
			n++
		}
		b.chunks[n-1] = append(b.chunks[n-1], v)
	}
	b.size += len(rec)
	return true
}

// addString appends the byte length of s followed by one code per byte,
// after the record prefix.
func (b *intBuffer) addString(prefix []int, s string, suffix ...int) bool {
	rec := make([]int, 0, len(prefix)+1+len(s)+len(suffix))
	rec = append(rec, prefix...)
	rec = append(rec, len(s))
	for i := 0; i < len(s); i++ {
		rec = append(rec, int(s[i]))
	}
	rec = append(rec, suffix...)
	return b.add(rec...)
}

func (b *intBuffer) len() int { return b.size }

// reader walks the buffer from the start.
func (b *intBuffer) reader() *intReader { return &intReader{b: b} }

type intReader struct {
	b   *intBuffer
	pos int
}

func (r *intReader) more() bool { return r.pos < r.b.size }

func (r *intReader) next() int {
	v := r.b.chunks[r.pos/r.b.chunkSize][r.pos%r.b.chunkSize]
	r.pos++
	return v
}

func (r *intReader) string() string {
	n := r.next()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(r.next())
	}
	return string(buf)
}
