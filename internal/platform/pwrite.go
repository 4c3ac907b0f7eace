package platform

import (
	"errors"
	"io"
	"sync"
)

const bufferSize = 1 << 20

var buffers = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

func (c Copy) buffered() (Copied, error) {
	bp := buffers.Get().(*[]byte)
	defer buffers.Put(bp)
	buf := *bp

	out := Copied{Method: MethodPwrite}
	for out.N < c.N {
		want := min(c.N-out.N, bufferSize)
		n, err := c.From.ReadAt(buf[:want], c.FromOff+out.N)
		if n > 0 {
			if _, werr := c.To.WriteAt(buf[:n], c.ToOff+out.N); werr != nil {
				return out, werr
			}
			out.N += int64(n)
		}
		if errors.Is(err, io.EOF) {
			if out.N < c.N {
				return out, ErrShortSource
			}
			break
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
