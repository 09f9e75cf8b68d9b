package knowledge

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"regexp"
	"strings"
	"syscall"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/user/knowledgebot/internal/types"
)

// postgrest-go flattens error responses to "(<code>) <message>" and
// drops the HTTP status.
var postgrestCode = regexp.MustCompile(`^\(([0-9A-Z]*)\) `)

// classify turns a store failure into a *types.ServiceError so the
// retry executor can tell an outage from a bad write. Anything not
// recognised as an outage is Rejected.
func classify(store, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *types.ServiceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.TimedOut(store, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.TimedOut(store, op, err)
		}
		return types.Unavailable(store, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return types.Unavailable(store, op, err)
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return classifySQLite(store, op, coder.Code(), err)
	}
	for _, errno := range []syscall.Errno{syscall.ENOSPC, syscall.EIO, syscall.EAGAIN, syscall.EBUSY, syscall.EMFILE, syscall.ENFILE} {
		if errors.Is(err, errno) {
			return types.Unavailable(store, op, err)
		}
	}
	if errors.Is(err, fs.ErrPermission) {
		return types.Rejected(store, op, types.ReasonPrivate, err)
	}
	if m := postgrestCode.FindStringSubmatch(err.Error()); m != nil {
		return classifyPostgrest(store, op, m[1], err)
	}
	if strings.HasPrefix(err.Error(), "error parsing error response") {
		// Non-JSON error bodies come from the gateway, not PostgREST.
		return types.Unavailable(store, op, err)
	}
	return types.Rejected(store, op, types.ReasonMalformed, err)
}

func classifySQLite(store, op string, code int, err error) error {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_PROTOCOL:
		return types.Unavailable(store, op, err)
	case sqlite3.SQLITE_INTERRUPT:
		return types.TimedOut(store, op, err)
	default:
		return types.Rejected(store, op, types.ReasonMalformed, err)
	}
}

// classifyPostgrest reads PostgREST and SQLSTATE codes. An empty code
// means the body had no code field, which PostgREST itself never sends.
func classifyPostgrest(store, op, code string, err error) error {
	switch {
	case code == "":
		return types.Unavailable(store, op, err)
	case code == "57014", code == "PGRST003":
		return types.TimedOut(store, op, err)
	case code == "PGRST000", code == "PGRST001", code == "PGRST002":
		return types.Unavailable(store, op, err)
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "40"), // transaction rollback
		strings.HasPrefix(code, "53"), // insufficient resources
		strings.HasPrefix(code, "57P"),
		strings.HasPrefix(code, "58"):
		return types.Unavailable(store, op, err)
	default:
		return types.Rejected(store, op, types.ReasonMalformed, err)
	}
}
