package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"seopilot/internal/config"
	"seopilot/internal/models"
	"seopilot/pkg/logger"
)

// ChangeFeed is the production change-feed source: a websocket connection
// to the backend over which row-change notifications for the task tables
// are delivered. It implements the tracker's EventSource contract; the
// events channel is closed exactly once, when the connection ends.
type ChangeFeed struct {
	conn   *websocket.Conn
	events chan models.ChangeEvent
	logger *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// subscribeMessage scopes the feed to one user's rows in the requested
// tables, mirroring the backend's channel filters.
type subscribeMessage struct {
	Action string   `json:"action"`
	Tables []string `json:"tables"`
	UserID string   `json:"user_id"`
}

// Dial connects the change feed for one user and starts decoding events.
func Dial(ctx context.Context, cfg config.RealtimeConfig, userID string, log *logger.Logger) (*ChangeFeed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		tables = []string{models.TableTasks, models.TableAgentRuns}
	}
	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Tables: tables, UserID: userID}); err != nil {
		conn.Close()
		return nil, err
	}

	feed := &ChangeFeed{
		conn:   conn,
		events: make(chan models.ChangeEvent, 64),
		logger: log,
	}
	go feed.readLoop()
	return feed, nil
}

// Events returns the notification channel. It is closed when the feed
// ends, whether by Close or by the connection dropping.
func (f *ChangeFeed) Events() <-chan models.ChangeEvent {
	return f.events
}

// Close tears the connection down. After the subscription manager consuming
// Events has drained, no further notifications are delivered.
func (f *ChangeFeed) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.conn.Close()
	})
	return f.closeErr
}

func (f *ChangeFeed) readLoop() {
	defer close(f.events)
	for {
		var event models.ChangeEvent
		if err := f.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Change feed connection dropped")
			}
			return
		}
		f.events <- event
	}
}
