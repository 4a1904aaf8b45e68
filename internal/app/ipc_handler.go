package app

import (
	"context"

	"github.com/joeyverbeke/gradi-mediation/internal/ipc"
	"github.com/joeyverbeke/gradi-mediation/internal/session"
)

// ipcHandler dispatches status/reset/shutdown commands against the running
// controller (SPEC_FULL.md §2, internal/ipc).
type ipcHandler struct {
	controller *session.Controller
}

func newIPCHandler(controller *session.Controller) ipc.Handler {
	return ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: string(controller.State())}
		case "reset":
			controller.Enqueue(session.Event{Kind: session.KindOperatorReset})
			return ipc.Response{OK: true, Message: "reset requested"}
		case "shutdown":
			controller.Enqueue(session.Event{Kind: session.KindShutdown})
			return ipc.Response{OK: true, Message: "shutdown requested"}
		default:
			return ipc.Response{OK: false, Error: "unknown command: " + req.Command}
		}
	})
}
