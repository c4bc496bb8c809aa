package protocol

import (
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Effect is a side effect requested by Transition.
type Effect interface {
	effectName() string
}

// SendCommand puts a command on the current connection.
type SendCommand struct {
	Command wire.Command
}

// Severity grades a user-visible notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notify raises a user-visible notice.
type Notify struct {
	Title       string
	Description string
	Severity    Severity
}

// RefreshToken asks the token collaborator for a new token, to be delivered
// as TokenRefreshed.
type RefreshToken struct{}

// ScheduleTimeout asks for SubscribeTimeout to be delivered after After.
type ScheduleTimeout struct {
	Target  topic.Target
	Attempt int
	After   time.Duration
}

func (SendCommand) effectName() string     { return "send" }
func (Notify) effectName() string          { return "notify" }
func (RefreshToken) effectName() string    { return "refresh-token" }
func (ScheduleTimeout) effectName() string { return "schedule-timeout" }
