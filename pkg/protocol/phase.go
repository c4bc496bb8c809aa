// Package protocol is the connection/auth/subscription state machine. All
// decisions are made by the pure Transition function; effects are returned
// as values and executed by the caller.
package protocol

import (
	"fmt"

	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
)

// Phase is the observable state of the connection.
type Phase int

const (
	Idle Phase = iota
	Connecting
	Authenticating
	IdleReady
	SubscribingBatchTable
	SubscribingNotebook
	SubscribingFile
	SubscribedBatchTable
	SubscribedNotebook
	SubscribedFile
	Closed
)

var phaseNames = map[Phase]string{
	Idle:                  "idle",
	Connecting:            "connecting",
	Authenticating:        "authenticating",
	IdleReady:             "idle-ready",
	SubscribingBatchTable: "subscribing-to-batch-table",
	SubscribingNotebook:   "subscribing-to-notebook-and-conversation",
	SubscribingFile:       "subscribing-to-file",
	SubscribedBatchTable:  "subscribed-to-batch-table",
	SubscribedNotebook:    "subscribed-to-notebook-and-conversation",
	SubscribedFile:        "subscribed-to-file",
	Closed:                "closed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Ready reports whether commands other than auth may be sent.
func (p Phase) Ready() bool {
	return p >= IdleReady && p <= SubscribedFile
}

// Subscribed reports whether p is one of the subscribed-* phases.
func (p Phase) Subscribed() bool {
	return p >= SubscribedBatchTable && p <= SubscribedFile
}

func subscribingPhase(k topic.Kind) Phase {
	switch k {
	case topic.KindBatchTable:
		return SubscribingBatchTable
	case topic.KindNotebook:
		return SubscribingNotebook
	}
	return SubscribingFile
}

func subscribedPhase(k topic.Kind) Phase {
	switch k {
	case topic.KindBatchTable:
		return SubscribedBatchTable
	case topic.KindNotebook:
		return SubscribedNotebook
	}
	return SubscribedFile
}

// AuthStatus tracks authentication of the current connection.
type AuthStatus int

const (
	Unauthenticated AuthStatus = iota
	AuthInProgress
	Authenticated
)

func (a AuthStatus) String() string {
	switch a {
	case Unauthenticated:
		return "unauthenticated"
	case AuthInProgress:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("auth(%d)", int(a))
}
