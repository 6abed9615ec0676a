package pathjail

import "errors"

// ErrPathEscape is returned by Resolve when a virtual path's resolved host
// path would fall outside the jail root, including the case where a
// symlink inside the jail points outside it.
var ErrPathEscape = errors.New("pathjail: path escapes jail root")
