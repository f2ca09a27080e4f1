// Package bounds names the call sites that loop over user memory an
// unbounded number of times (copying a long buffer, walking an iovec
// array). Each name is handed to res.Resadd_noblock, which charges one
// step against the shared step budget; the ledger does not record which
// loop was charged. Grounded on the teacher's own bounds.Bounds(bounds.B_...) call sites
// in vm/as.go and vm/userbuf.go, whose implementation was not retrieved
// into the pack but whose call shape is.
package bounds

/// Bound_t identifies a resource-bounded loop for accounting purposes.
type Bound_t int

const (
	B_AS_T_USER2K_INNER Bound_t = iota
	B_AS_T_K2USER_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_FS_T_READ
	B_FS_T_WRITE
)

var names = [...]string{
	"as_t.user2k_inner",
	"as_t.k2user_inner",
	"userbuf_t._tx",
	"useriovec_t.iov_init",
	"useriovec_t._tx",
	"fs.read",
	"fs.write",
}

/// String names the bound for diagnostics.
func (b Bound_t) String() string {
	if int(b) < len(names) {
		return names[b]
	}
	return "bound(?)"
}

/// Bounds returns the identifier itself; kept as a function (rather
/// than using the constant directly) so call sites read the same way
/// the teacher's did: bounds.Bounds(bounds.B_FOO).
func Bounds(b Bound_t) Bound_t {
	return b
}
