package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type socketClient struct {
	id     *uuid.UUID
	socket *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	return client.socket.WriteJSON(message)
}

// Read blocks until the clients connection closes. The activity feed is
// one-way; anything the client sends is drained and discarded, but the
// read loop is what lets us notice a disconnect.
func (client *socketClient) Read() error {
	for {
		if _, _, err := client.socket.ReadMessage(); err != nil {
			return err
		}
	}
}

// Close will close this clients socket.
func (client *socketClient) Close() {
	client.socket.Close()
}
