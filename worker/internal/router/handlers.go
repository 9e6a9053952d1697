package router

import "github.com/relaystack/relayworker/pkg/envelope"

// DefaultTable answers LOGIN and RPC_REQUEST locally so that a device can
// complete its handshake without a backend behind the relay.
func DefaultTable(userAgent string) *Table {
	return NewTable().
		HandleRequest(envelope.MethodLogin, login(userAgent)).
		HandleRequest(envelope.MethodRPCRequest, rpc)
}

func login(userAgent string) RequestHandler {
	return func(req *envelope.Request, resp *envelope.Response) {
		var workerID string
		if req.Login != nil {
			workerID = req.Login.WorkerID
		}
		resp.Status = envelope.StatusSuccess
		resp.Login = &envelope.LoginResponse{
			WorkerID:  workerID,
			Status:    envelope.AuthStatusGotAuthToken,
			UserAgent: userAgent,
		}
	}
}

func rpc(_ *envelope.Request, resp *envelope.Response) {
	resp.Status = envelope.StatusSuccess
	resp.RPC = &envelope.RPCResponse{RPCStatus: envelope.RPCStatusSuccess}
}
