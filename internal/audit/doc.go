// Package audit relays security events to pluggable sinks without blocking
// the request path.
//
// [Dispatcher] buffers events on a channel drained by one goroutine. When
// the buffer is full it either drops the event (counting the drop) or
// blocks the caller, depending on configuration.
package audit
