package types

// ConnectClientEvent signals that a client finished its hello exchange.
type ConnectClientEvent struct {
	ClientID uint32
}

// DisconnectClientEvent signals that a client's connection dropped.
type DisconnectClientEvent struct {
	ClientID uint32
}
