package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/metrics"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// EventMessage is one frame on a session's event stream
type EventMessage struct {
	Type string      `json:"type"`
	Data sessionPage `json:"data"`
}

// sessionEvents streams the session's page on connect and after every change
func (s *Server) sessionEvents(c echo.Context) error {
	session, ok := s.lookup(c)
	if !ok {
		return sessionNotFound(c)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		s.log.WithError(err).WithField("session_id", session.ID).Warn("Websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	session.subscribers.Add(1)
	metrics.SessionSubscribersActive.Inc()
	defer func() {
		session.subscribers.Add(-1)
		metrics.SessionSubscribersActive.Dec()
	}()

	log := s.log.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"remote_addr": c.RealIP(),
	})
	log.Debug("Event stream opened")

	// holds at most the latest unsent state; older ones are superseded
	updates := make(chan viewstate.ViewState, 1)
	unsubscribe := session.Controller.Subscribe(func(state viewstate.ViewState) {
		for {
			select {
			case updates <- state:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := s.writeState(conn, session.ID, session.Controller.State()); err != nil {
		log.WithError(err).Debug("Event stream write failed")
		return nil
	}

	for {
		select {
		case state := <-updates:
			if err := s.writeState(conn, session.ID, state); err != nil {
				log.WithError(err).Debug("Event stream write failed")
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			log.Debug("Event stream closed by client")
			return nil
		case <-s.analysisCtx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return nil
		}
	}
}

func (s *Server) writeState(conn *websocket.Conn, id string, state viewstate.ViewState) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(EventMessage{
		Type: "state",
		Data: s.page(id, state),
	})
}

// readPump drains client frames so control messages are handled, and closes
// closed when the connection goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
