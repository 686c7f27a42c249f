package channel

import (
	"sync"

	"auction-client/internal/ws"
)

// subscribeTypes fans a set of frame types into one handler and returns a
// single disposer covering all of them. The disposer is a no-op on the
// second call.
func subscribeTypes(sock *ws.Socket, types []string, fn ws.MessageHandler) func() {
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, sock.OnMessage(t, fn))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}
