package srv

import "sidecar/common"

// ErrNotFound is returned by Storage implementations when a lookup finds no
// matching row. Every sqlite.Storage and redis storage method already
// compares against this sentinel (see srv/sqlite/workspace.go,
// srv/delegator.go) but no definition of it existed anywhere in the
// retrieved teacher sources, the same kind of retrieval gap utils.Map/Filter
// filled for the llm package. It is the same value as common.ErrNotFound (a
// few sqlite files reference that name instead) so errors.Is matches either way.
var ErrNotFound = common.ErrNotFound
