package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduitbot/conduit/internal/pipeline"
)

// BanSessionCheck enforces the pipeline's access control list. Whitelist
// mode admits only matching sessions; blacklist mode rejects them.
type BanSessionCheck struct {
	base
}

func NewBanSessionCheck(deps Deps) *BanSessionCheck {
	return &BanSessionCheck{base{deps: deps}}
}

func (s *BanSessionCheck) Name() string { return "BanSessionCheck" }

func (s *BanSessionCheck) Process(_ context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	ac := s.cfg.Trigger.AccessControl
	matched := false
	for _, entry := range ac.Entries() {
		if entryMatches(entry, string(q.LauncherType), q.LauncherID, q.SenderID) {
			matched = true
			break
		}
	}
	whitelist := ac.Mode == "whitelist"
	if matched == whitelist {
		return pipeline.ContinueWith(q), nil
	}
	return interrupt(q, fmt.Sprintf(
		"Ignore message according to access control: %s_%s", q.LauncherType, q.LauncherID)), nil
}

// entryMatches evaluates one access-control entry. Forms:
// "{type}_*" matches every session of the launcher type,
// "{type}_{id}" matches one launcher exactly,
// "*_{id}" matches the id against both launcher and sender.
func entryMatches(entry, launcherType, launcherID, senderID string) bool {
	sep := strings.Index(entry, "_")
	if sep < 0 {
		return false
	}
	typePart, idPart := entry[:sep], entry[sep+1:]
	switch {
	case typePart == "*":
		return idPart == launcherID || idPart == senderID
	case typePart == launcherType && idPart == "*":
		return true
	default:
		return typePart == launcherType && idPart == launcherID
	}
}
