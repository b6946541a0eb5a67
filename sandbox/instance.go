package sandbox

import (
	"sync"

	"mini-rpc/transport"
)

// instanceRegistry is the Go analogue of the original's single-process
// thread-local InstanceKey mechanism: when a module runs as an in-process
// goroutine rather than a child process, there is no OS boundary across
// which to hex-encode a transport configuration, so the host instead
// deposits the module-side transport endpoint here under a random key and
// passes only that key as the thread's argument. The module retrieves its
// endpoint once, at startup, with TakeInstance.
var (
	instanceRegistryMu sync.Mutex
	instanceRegistry   = make(map[string]transport.Transport)
)

// RegisterInstance deposits t under key for later retrieval by TakeInstance.
// NewThreadSandbox uses it at sandbox bootstrap; the linker does not use it,
// since it hands each module its link Port directly through Runtime.Link.
func RegisterInstance(key string, t transport.Transport) {
	instanceRegistryMu.Lock()
	defer instanceRegistryMu.Unlock()
	instanceRegistry[key] = t
}

// TakeInstance retrieves and removes the transport endpoint registered
// under key. Called exactly once by the module body identified by that
// key.
func TakeInstance(key string) (transport.Transport, bool) {
	instanceRegistryMu.Lock()
	defer instanceRegistryMu.Unlock()
	t, ok := instanceRegistry[key]
	delete(instanceRegistry, key)
	return t, ok
}
