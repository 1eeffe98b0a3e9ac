package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/impostor-party/impostor/internal/game"
	"github.com/impostor-party/impostor/internal/logger"
	"github.com/impostor-party/impostor/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	id   string
	conn *websocket.Conn
	send chan protocol.Event
	done chan struct{}
	log  *logger.Logger
}

// Send queues an event for delivery. A client that cannot keep up has
// its events dropped rather than blocking the game loop.
func (c *Client) Send(ev protocol.Event) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		c.log.Warnf("dropping %s event for slow client %s", ev.Type, c.id)
	}
}

func serveWebsocket(cfg *Config, mgr *game.Manager, log *logger.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("upgrade error from %s: %v", realIP(r), err)

			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan protocol.Event, 32),
			done: make(chan struct{}),
			log:  log,
		}

		log.Debugf("client %s connected from %s", client.id, realIP(r))

		mgr.Connect(client.id, client)

		go client.writePump()
		client.readPump(mgr)
	}
}

func (c *Client) readPump(mgr *game.Manager) {
	defer func() {
		mgr.Disconnect(c.id)
		close(c.done)
		_ = c.conn.Close()
		c.log.Debugf("client %s disconnected", c.id)
	}()

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		ack := c.dispatch(mgr, env)
		ack.ReqID = env.ReqID
		c.Send(protocol.Event{Type: protocol.EventAck, Data: ack})
	}
}

func (c *Client) dispatch(mgr *game.Manager, env protocol.Envelope) protocol.Ack {
	action, err := protocol.Decode(env)
	if err != nil {
		return protocol.AckErr(err)
	}

	switch a := action.(type) {
	case *protocol.CreateRoom:
		return mgr.CreateRoom(c.id, *a)
	case *protocol.JoinRoom:
		return mgr.Join(c.id, *a)
	case *protocol.SetReady:
		return mgr.SetReady(c.id, *a)
	case *protocol.Rejoin:
		return mgr.Rejoin(c.id, *a)
	case *protocol.SettingsPatch:
		return mgr.UpdateSettings(c.id, *a)
	case *protocol.SubmitHint:
		return mgr.SubmitHint(c.id, *a)
	case *protocol.CastVote:
		return mgr.CastVote(c.id, *a)
	case *protocol.SendChat:
		return mgr.SendChat(c.id, *a)
	case *protocol.RoomFilter:
		if env.Type == protocol.ActionWatchRooms {
			return mgr.WatchRooms(c.id, *a)
		}
		c.Send(protocol.Event{Type: protocol.EventRoomList, Data: mgr.ListRooms(*a)})

		return protocol.AckOK()
	case *protocol.RoomOnly:
		switch env.Type {
		case protocol.ActionStartGame:
			return mgr.StartGame(c.id, *a)
		case protocol.ActionForceNext:
			return mgr.ForceNextTurn(c.id, *a)
		case protocol.ActionForceRestart:
			return mgr.ForceRestart(c.id, *a)
		case protocol.ActionCloseRoom:
			return mgr.CloseRoom(c.id, *a)
		}
	}

	return protocol.AckErr(protocol.ErrUnknownAction)
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
