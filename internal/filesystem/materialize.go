package filesystem

import (
	"fmt"
	"os"
)

// materialize returns the context prefix followed by the bytes of the
// origin file. It is recomputed on every call and never cached, so that
// any write to the context is reflected by the very next read.
func (r *Router) materialize(p Path) ([]byte, error) {
	data, err := os.ReadFile(p.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to read origin: %w", err)
	}

	prefix := r.store.Prefix()

	out := make([]byte, 0, len(prefix)+len(data))
	out = append(out, prefix...)

	return append(out, data...), nil
}
