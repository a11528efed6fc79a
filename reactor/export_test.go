//go:build unix

package reactor

// NumDescriptors reports how many descriptors p references.
func (p *Pollset) NumDescriptors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fds)
}

// NumDescriptors reports how many descriptors s references.
func (s *PollsetSet) NumDescriptors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fds)
}

// HasDescriptor reports whether p references d.
func (p *Pollset) HasDescriptor(d *Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.fds {
		if have == d {
			return true
		}
	}
	return false
}
