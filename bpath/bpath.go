// Package bpath canonicalizes user-supplied paths against a task's
// current working directory. It is a leaf package with no kernel state
// of its own, used by fd.Cwd_t.Canonicalpath.
package bpath

import "github.com/Aglay/yatos/ustr"

/// Canonicalize collapses "." and ".." components and repeated slashes
/// in p, which must already be an absolute path (see
/// fd.Cwd_t.Fullpath). It does not touch the filesystem; ".." at the
/// root simply stays at the root.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	parts := split(p)
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0, c.Isdot():
			continue
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	ret := ustr.MkUstrRoot()
	for i, c := range stack {
		if i > 0 {
			ret = append(ret, '/')
		} else {
			ret = ret[:0]
			ret = append(ret, '/')
		}
		ret = append(ret, c...)
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	return ret
}

func split(p ustr.Ustr) []ustr.Ustr {
	var ret []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				ret = append(ret, p[start:i])
			}
			start = i + 1
		}
	}
	return ret
}
