package backend

// ShutdownCommand is the reserved notification sent to the worker
// before the client closes the connection. Workers treat it as a
// request to stop serving.
const ShutdownCommand = "shutdown"

// Request is an outbound work request. RequestID is generated client
// side and echoed back unchanged by the worker; Worker names the
// handler registered on the worker side.
type Request struct {
	RequestID string `json:"request_id" msgpack:"request_id"`
	Worker    string `json:"worker" msgpack:"worker"`
	Data      any    `json:"data" msgpack:"data"`
}

// Response is an inbound reply to a Request, matched to its pending
// callback by RequestID.
type Response struct {
	RequestID string `json:"request_id" msgpack:"request_id"`
	Status    bool   `json:"status" msgpack:"status"`
	Results   any    `json:"results" msgpack:"results"`
}

// Callback receives the outcome of a request: the worker status flag
// and the results value, exactly as carried by the response.
type Callback func(status bool, results any)
