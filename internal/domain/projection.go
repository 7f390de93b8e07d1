package domain

// Projection is the set of texts the claim handler accepts for a chat:
// the active session's unclaimed labels plus RemoveLabel.
type Projection struct {
	labels []string
	index  map[string]struct{}
}

// NewProjection derives the projection of s. A nil session yields an empty
// projection that matches nothing.
func NewProjection(s *Session) Projection {
	if s == nil {
		return Projection{}
	}
	labels := append(s.Unclaimed(), RemoveLabel)
	index := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		index[l] = struct{}{}
	}
	return Projection{labels: labels, index: index}
}

// Contains reports whether text should be routed to the claim handler.
func (p Projection) Contains(text string) bool {
	_, ok := p.index[text]
	return ok
}

// IsRemove reports whether text is the removal request and the projection is live.
func (p Projection) IsRemove(text string) bool {
	return text == RemoveLabel && p.Contains(text)
}

// Empty reports whether the projection matches nothing.
func (p Projection) Empty() bool {
	return len(p.labels) == 0
}

// Claimable returns the unclaimed labels in display order.
func (p Projection) Claimable() []string {
	if len(p.labels) == 0 {
		return nil
	}
	return append([]string(nil), p.labels[:len(p.labels)-1]...)
}

// Labels returns every accepted text, RemoveLabel last.
func (p Projection) Labels() []string {
	return append([]string(nil), p.labels...)
}
