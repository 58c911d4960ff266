package apiserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldbell/slab/backend/internal/indexer"
)

// Channels: "positions", "positions.<owner>", "market", "market.<slab>".
const (
	channelPositions = "positions"
	channelMarket    = "market"
)

type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

const websocketWriteWait = 10 * time.Second

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.cors.allows(strings.TrimSpace(req.Header.Get("Origin")))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newSubscriptionSet()
	readErrCh := make(chan error, 1)
	// Only this goroutine writes to conn or touches subs.
	requests := make(chan websocketSubscribeRequest, 16)
	go s.websocketReadLoop(ctx, conn, requests, readErrCh)

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	pings := time.NewTicker(s.cfg.StreamPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteWait)); err != nil {
				s.logger.Debug("websocket ping failed", "err", err)
				return
			}
		case request := <-requests:
			if err := writeWebsocketJSON(conn, applySubscription(subs, request)); err != nil {
				return
			}
		case <-ticker.C:
			for _, channel := range subs.List() {
				payload, err := s.channelPayload(ctx, channel)
				if err != nil {
					s.logger.Warn("websocket channel fetch failed", "channel", channel, "err", err)
					_ = writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: channel, Error: "failed to fetch channel data", TS: time.Now().Unix()})
					continue
				}
				if payload == nil {
					continue
				}
				if err := writeWebsocketJSON(conn, websocketEnvelope{Type: "event", Channel: channel, Data: payload, TS: time.Now().Unix()}); err != nil {
					return
				}
			}
		}
	}
}

func (s *Service) websocketReadLoop(
	ctx context.Context,
	conn *websocket.Conn,
	requests chan<- websocketSubscribeRequest,
	readErrCh chan<- error,
) {
	pongWait := 3 * s.cfg.StreamPingInterval
	conn.SetReadLimit(64 * 1024)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		select {
		case <-ctx.Done():
			readErrCh <- nil
			return
		default:
		}
		var message websocketSubscribeRequest
		if err := conn.ReadJSON(&message); err != nil {
			readErrCh <- err
			return
		}
		message.Type = strings.ToLower(strings.TrimSpace(message.Type))
		message.Channel = strings.TrimSpace(message.Channel)
		select {
		case requests <- message:
		case <-ctx.Done():
			readErrCh <- nil
			return
		}
	}
}

func applySubscription(subs *subscriptionSet, message websocketSubscribeRequest) websocketEnvelope {
	var reply websocketEnvelope
	switch {
	case !validChannel(message.Channel):
		reply = websocketEnvelope{Type: "error", Channel: message.Channel, Error: "unknown channel"}
	case message.Type == "subscribe":
		subs.Add(message.Channel)
		reply = websocketEnvelope{Type: "subscribed", Channel: message.Channel}
	case message.Type == "unsubscribe":
		subs.Remove(message.Channel)
		reply = websocketEnvelope{Type: "unsubscribed", Channel: message.Channel}
	default:
		reply = websocketEnvelope{Type: "error", Channel: message.Channel, Error: "unknown message type"}
	}
	reply.TS = time.Now().Unix()
	return reply
}

func validChannel(channel string) bool {
	switch {
	case channel == channelPositions, channel == channelMarket:
		return true
	case strings.HasPrefix(channel, channelPositions+"."):
		return len(channel) > len(channelPositions)+1
	case strings.HasPrefix(channel, channelMarket+"."):
		return len(channel) > len(channelMarket)+1
	}
	return false
}

// channelPayload returns nil when there is nothing to push yet.
func (s *Service) channelPayload(ctx context.Context, channel string) (any, error) {
	switch {
	case channel == channelPositions || strings.HasPrefix(channel, channelPositions+"."):
		owner := strings.TrimPrefix(strings.TrimPrefix(channel, channelPositions), ".")
		items, _, _, err := s.store.ListAccounts(ctx, indexer.AccountFilter{Owner: owner, OpenOnly: true, Limit: 200})
		if err != nil {
			return nil, err
		}
		return items, nil
	case channel == channelMarket || strings.HasPrefix(channel, channelMarket+"."):
		slab := strings.TrimPrefix(strings.TrimPrefix(channel, channelMarket), ".")
		market, err := s.resolveMarket(ctx, slab)
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return market, nil
	}
	return nil, nil
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

type subscriptionSet struct {
	items map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{items: map[string]struct{}{}}
}

func (s *subscriptionSet) Add(channel string) {
	s.items[channel] = struct{}{}
}

func (s *subscriptionSet) Remove(channel string) {
	delete(s.items, channel)
}

// List is sorted so pushes go out in a stable order.
func (s *subscriptionSet) List() []string {
	out := make([]string, 0, len(s.items))
	for channel := range s.items {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}
