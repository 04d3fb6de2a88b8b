package executor

import "strings"

// PathMapper rewrites content paths from this host's layout into the layout
// the executor mounts. Separators are always forward slashes on the wire.
type PathMapper struct {
	LocalRoot  string
	RemoteRoot string
}

func (m PathMapper) Translate(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	local := strings.TrimRight(strings.ReplaceAll(m.LocalRoot, `\`, "/"), "/")
	remote := strings.TrimRight(strings.ReplaceAll(m.RemoteRoot, `\`, "/"), "/")
	if local == "" || remote == "" {
		return p
	}
	if p == local {
		return remote
	}
	if strings.HasPrefix(p, local+"/") {
		return remote + p[len(local):]
	}
	return p
}
