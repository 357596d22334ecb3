package cpt

import "fmt"

// PushError describes a push that could not be delivered. It carries what the
// failure record needs: a short reason and the content that was, or would have
// been, posted.
type PushError struct {
	Reason  string
	Content string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push failed: %s", e.Reason)
}
