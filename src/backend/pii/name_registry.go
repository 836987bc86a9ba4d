package pii

// NameRegistry maps name surface strings to placeholders for one document.
// The first placeholder registered for a surface string is kept; later
// registrations return it unchanged. Keys are exact, case-sensitive text.
type NameRegistry struct {
	placeholders map[string]string
	order        []string
}

func NewNameRegistry() *NameRegistry {
	return &NameRegistry{placeholders: make(map[string]string)}
}

// Register records surface with placeholder unless surface is already known,
// and returns the placeholder in effect.
func (r *NameRegistry) Register(surface, placeholder string) string {
	if existing, ok := r.placeholders[surface]; ok {
		return existing
	}
	r.placeholders[surface] = placeholder
	r.order = append(r.order, surface)
	return placeholder
}

// Placeholder looks up the placeholder for surface.
func (r *NameRegistry) Placeholder(surface string) (string, bool) {
	p, ok := r.placeholders[surface]
	return p, ok
}

// Keys returns the registered surface strings in insertion order.
func (r *NameRegistry) Keys() []string {
	return append([]string(nil), r.order...)
}

func (r *NameRegistry) Len() int {
	return len(r.order)
}
