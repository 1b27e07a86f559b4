// internal/sched/status.go

package sched

// Status is the OSEK StatusType. The zero value E_OK is never returned as an
// error; system calls return nil on success.
type Status uint8

const (
	StatusOK Status = iota
	ErrAccess
	ErrCallLevel
	ErrID
	ErrLimit
	ErrNoFunc
	ErrResource
	ErrState
	ErrValue
)

// Error implements the error interface.
func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "E_OK"
	case ErrAccess:
		return "E_OS_ACCESS: access violation"
	case ErrCallLevel:
		return "E_OS_CALLEVEL: call at wrong level"
	case ErrID:
		return "E_OS_ID: invalid identifier"
	case ErrLimit:
		return "E_OS_LIMIT: activation limit exceeded"
	case ErrNoFunc:
		return "E_OS_NOFUNC: object not in use"
	case ErrResource:
		return "E_OS_RESOURCE: resource still occupied"
	case ErrState:
		return "E_OS_STATE: object in incompatible state"
	case ErrValue:
		return "E_OS_VALUE: value out of range"
	default:
		return "E_OS_UNKNOWN"
	}
}

// StatusOf maps a system call error back to its Status code.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if s, ok := err.(Status); ok {
		return s
	}
	return ErrNoFunc
}
