package idb

// Crash drops the handle the way a killed process would: the journal is
// closed without a checkpoint and the stores are released.
func Crash(db *DB) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.journal != nil {
		if err := db.journal.Close(); err != nil {
			return err
		}
	}
	return errorsJoin(db.release())
}

func errorsJoin(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
