package recorder

// Resource is the static identity attached to every export from every
// sink. Computed once at process start, immutable afterwards.
type Resource struct {
	ServiceName    string
	ServiceVersion string
}

// Map returns the resource as a plain attribute mapping.
func (r Resource) Map() map[string]string {
	return map[string]string{
		"service.name":    r.ServiceName,
		"service.version": r.ServiceVersion,
	}
}
