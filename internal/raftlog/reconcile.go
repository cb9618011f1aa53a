package raftlog

// AppendEntries applies the Raft log-matching rule to log: it is the pure
// reconciliation function of §4.C, invoked both when a leader appends its
// own new command and when a follower processes an AppendEntriesRequest.
//
// prevIndex == -1 means "write from the beginning" and prevTerm is ignored.
// Otherwise the call only succeeds if log[prevIndex].Term == prevTerm.
// On success, any entries in the log past prevIndex are discarded before
// entries is appended — this always truncates when there is a suffix
// beyond prevIndex, which is simpler than (and compatible with) the
// paper's narrower "conflicting term" rule, and is a no-op when the log
// already ends exactly at prevIndex.
func AppendEntries(log *Store, prevIndex int64, prevTerm int32, entries []LogEntry) (bool, error) {
	n := int64(log.Len())

	if prevIndex >= n {
		return false, nil
	}

	if prevIndex == -1 {
		if err := applyAll(log, prevIndex, entries); err != nil {
			return false, err
		}
		return true, nil
	}

	prev, err := log.Entry(int(prevIndex))
	if err != nil {
		return false, err
	}
	if int32(prev.Term) != prevTerm {
		return false, nil
	}

	if err := applyAll(log, prevIndex, entries); err != nil {
		return false, err
	}
	return true, nil
}

func applyAll(log *Store, prevIndex int64, entries []LogEntry) error {
	n := int64(log.Len())
	if n > prevIndex+1 {
		if err := clearUpto(log, prevIndex+1); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func clearUpto(log *Store, upto int64) error {
	for int64(log.Len()) > upto {
		if _, err := log.Pop(); err != nil {
			return err
		}
	}
	return nil
}
