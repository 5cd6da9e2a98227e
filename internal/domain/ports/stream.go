package ports

import (
	"io"
)

type StreamReader interface {
	io.ReadSeekCloser
	SetReadahead(int64)
	SetResponsive()
}
