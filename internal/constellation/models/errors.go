package models

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "icstore/pkg/domain-errors"
)

// ConcurrentModificationError reports a commit against a stale base version.
// Callers re-checkout and retry.
type ConcurrentModificationError struct {
	ICID           int64
	BaseVersion    int64
	CurrentVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("constellation %d was modified: base version %d, current version %d",
		e.ICID, e.BaseVersion, e.CurrentVersion)
}

func (e *ConcurrentModificationError) ErrorCode() dErrors.Code { return dErrors.CodeConflict }

func (e *ConcurrentModificationError) ErrorDetails() map[string]string {
	return map[string]string{"current_version": strconv.FormatInt(e.CurrentVersion, 10)}
}

// AlreadyLockedError reports that another actor holds the editing lock.
type AlreadyLockedError struct {
	ICID   int64
	Holder string
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("constellation %d is locked for editing by %s", e.ICID, e.Holder)
}

func (e *AlreadyLockedError) ErrorCode() dErrors.Code { return dErrors.CodeLocked }

func (e *AlreadyLockedError) ErrorDetails() map[string]string {
	return map[string]string{"lock_holder": e.Holder}
}

// ValidationError names the field that failed validation. It is always
// raised before any version is allocated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) ErrorCode() dErrors.Code { return dErrors.CodeValidation }

func (e *ValidationError) ErrorDetails() map[string]string {
	return map[string]string{"field": e.Field}
}

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	ICID int64
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("constellation %d cannot move from %s to %s", e.ICID, e.From, e.To)
}

func (e *InvalidTransitionError) ErrorCode() dErrors.Code { return dErrors.CodeInvalidState }

// MergeError reports a merge that could not proceed. Skipped lists sources
// that were already merged away.
type MergeError struct {
	ICIDs   []int64
	Skipped []int64
	Reason  string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge of [%s] failed: %s", joinIDs(e.ICIDs), e.Reason)
}

func (e *MergeError) ErrorCode() dErrors.Code { return dErrors.CodeMergeFailed }

func (e *MergeError) ErrorDetails() map[string]string {
	d := map[string]string{"failed_ic_ids": joinIDs(e.ICIDs)}
	if len(e.Skipped) > 0 {
		d["skipped_ic_ids"] = joinIDs(e.Skipped)
	}
	return d
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
