package gateway

import (
	"github.com/valyala/bytebufferpool"
)

// bufferPool backs the outbound send path: every Session.Send copies its
// marshalled payload into a pooled buffer and writes the frame from it.
var bufferPool bytebufferpool.Pool

func getBuffer() *bytebufferpool.ByteBuffer { return bufferPool.Get() }

func putBuffer(b *bytebufferpool.ByteBuffer) { bufferPool.Put(b) }
