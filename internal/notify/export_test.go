package notify

// SetRunner replaces the desktop command runner.
func (n *Notifier) SetRunner(fn func(name string, args ...string) error) {
	n.run = fn
}
