package snapshot

func (w *Writer) SetBeforeCommitForTest(fn func() error) {
	w.beforeCommit = fn
}
