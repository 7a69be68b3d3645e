package network

// ErrConnectionClosedByServer is returned when the server closes the connection
type ErrConnectionClosedByServer struct {
	Reason string
}

func (e *ErrConnectionClosedByServer) Error() string {
	if e.Reason != "" {
		return "connection closed by server: " + e.Reason
	}
	return "connection closed by server"
}

// ErrConnectionClosedByClient is returned when the connection is closed locally
type ErrConnectionClosedByClient struct{}

func (e *ErrConnectionClosedByClient) Error() string {
	return "connection closed by client"
}
