package transport

import "sync"

// HostChooser holds a primary host and ordered fallback hosts. The current
// host advances on reported failures and wraps around.
type HostChooser struct {
	lock      sync.Mutex
	hosts     []string
	index     int
	lastError string
}

// NewHostChooser returns a chooser starting at primary.
func NewHostChooser(primary string, fallbacks ...string) *HostChooser {
	chooser := &HostChooser{
		hosts: make([]string, 0, len(fallbacks)+1),
	}
	chooser.Add(primary)
	for _, host := range fallbacks {
		chooser.Add(host)
	}
	return chooser
}

// Sequence returns the primary followed by at most maxFallbacks fallbacks.
// A negative maxFallbacks means all of them.
func (chooser *HostChooser) Sequence(maxFallbacks int) []string {
	if chooser == nil {
		return nil
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if len(chooser.hosts) == 0 {
		return nil
	}
	limit := len(chooser.hosts)
	if maxFallbacks >= 0 && maxFallbacks+1 < limit {
		limit = maxFallbacks + 1
	}
	return append([]string(nil), chooser.hosts[:limit]...)
}

// CurrentHost returns the currently selected host.
func (chooser *HostChooser) CurrentHost() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if len(chooser.hosts) == 0 {
		return ""
	}
	if chooser.index < 0 || chooser.index >= len(chooser.hosts) {
		chooser.index = 0
	}
	return chooser.hosts[chooser.index]
}

// ReportFailure records err and advances to the next host.
func (chooser *HostChooser) ReportFailure(err error) {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if err != nil {
		chooser.lastError = err.Error()
	}
	if len(chooser.hosts) > 0 {
		chooser.index = (chooser.index + 1) % len(chooser.hosts)
	}
}

// ReportSuccess clears the last error and keeps the current host.
func (chooser *HostChooser) ReportSuccess() {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	chooser.lastError = ""
	chooser.lock.Unlock()
}

// Error returns the latest reported failure.
func (chooser *HostChooser) Error() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}

// Add appends host and returns chooser for chaining.
func (chooser *HostChooser) Add(host string) *HostChooser {
	if chooser == nil || host == "" {
		return chooser
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	for _, existing := range chooser.hosts {
		if existing == host {
			return chooser
		}
	}
	chooser.hosts = append(chooser.hosts, host)
	return chooser
}
