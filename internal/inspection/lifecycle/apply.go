package lifecycle

import (
	"time"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// ApplyTransition mutates the session record according to the transition.
func ApplyTransition(s *model.Session, tr Transition, now time.Time) {
	s.Step = tr.To
	if tr.To.IsTerminal() {
		s.CompletedAtUnix = now.Unix()
	}
	s.UpdatedAtUnix = now.Unix()
}
