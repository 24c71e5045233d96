package gitfs

import (
	"fmt"
	"os"
)

// writeRemoteMap persists the hash -> uri mapping for every attached
// remote to remote_map.txt, for operator diagnostics. I/O errors here are
// swallowed by the caller - this file is diagnostic only.
func (rp *RepoPool) writeRemoteMap() error {
	var buf []byte
	for _, rs := range rp.remotes {
		buf = append(buf, []byte(fmt.Sprintf("%s %s\n", rs.Hash, rs.URI))...)
	}
	return os.WriteFile(rp.remoteMapPath(), buf, 0o644)
}
