package gate

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"

	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/workrailerr"
)

// osFileLocker implements fileLocker via exclusive lock-file creation
// (O_CREATE|O_EXCL), the portable filesystem equivalent of an advisory flock
// when no platform-specific locking library is available in this module's
// dependency set.
type osFileLocker struct {
	dataDir string
}

func newOSFileLocker(dataDir string) *osFileLocker {
	return &osFileLocker{dataDir: dataDir}
}

func (l *osFileLocker) lockPath(sessionId ids.SessionId) string {
	return filepath.Join(l.dataDir, "sessions", string(sessionId), "lock")
}

func (l *osFileLocker) Acquire(sessionId ids.SessionId) (func(), bool, error) {
	path := l.lockPath(sessionId)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to create session directory for lock: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, true, nil
		}
		return nil, false, workrailerr.Newf(workrailerr.CodeSessionStoreCorruption, "failed to acquire session lock: %v", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()

	release := func() { os.Remove(path) }
	return release, false, nil
}

// retryAfterMs draws a retry hint uniformly in [250, 3000), per spec.md
// §5's lock-busy retry window.
func retryAfterMs(sessionId ids.SessionId) int {
	const lo, span = 250, 2750
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return lo
	}
	return lo + int(binary.BigEndian.Uint64(buf[:])%uint64(span))
}
