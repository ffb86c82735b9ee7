package queue

import "github.com/xraph/conductor/job"

// Router maps job types to queue names. It is built once and read-only
// afterwards, so it is safe for concurrent use.
type Router struct {
	routes   map[job.Type]string
	fallback string
}

// NewRouter builds a router from the Types listed on each queue. Types
// not listed anywhere route to the Default queue.
func NewRouter(configs []Config) *Router {
	r := &Router{routes: make(map[job.Type]string), fallback: Default}
	for _, c := range configs {
		for _, t := range c.Types {
			if _, dup := r.routes[t]; !dup {
				r.routes[t] = c.Name
			}
		}
	}
	return r
}

// Route returns the queue for t. It is total: unknown types get the
// default queue.
func (r *Router) Route(t job.Type) string {
	if q, ok := r.routes[t]; ok {
		return q
	}
	return r.fallback
}

// Routes returns a copy of the routing table.
func (r *Router) Routes() map[job.Type]string {
	out := make(map[job.Type]string, len(r.routes))
	for t, q := range r.routes {
		out[t] = q
	}
	return out
}
