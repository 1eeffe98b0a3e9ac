// Package events publishes room lifecycle and game events to NATS JetStream
// when a broker is configured. Every method is a no-op on a nil Publisher,
// so callers never need to gate on whether NATS is available.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/impostor-party/impostor/internal/logger"
)

const (
	streamName      = "IMPOSTOR"
	streamRetention = 30 * time.Minute

	subjectRoomCreated = "impostor.rooms.created"
	subjectRoomClosed  = "impostor.rooms.closed"
	subjectGameStarted = "impostor.games.started.%s"
	subjectGameOver    = "impostor.games.over.%s"
)

type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *logger.Logger
}

// Connect dials NATS and ensures the event stream exists. An empty URL
// returns a nil Publisher, which disables event publishing entirely.
func Connect(url string, log *logger.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("getting JetStream context: %w", err)
	}

	streamConfig := &nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"impostor.>"},
		Storage:  nats.FileStorage,
		MaxAge:   streamRetention,
	}
	if _, err := js.StreamInfo(streamName); err != nil {
		if _, err := js.AddStream(streamConfig); err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", streamName, err)
		}
	} else if _, err := js.UpdateStream(streamConfig); err != nil {
		log.Warnf("updating stream %s: %v", streamName, err)
	}

	log.Infof("connected to NATS at %s", url)

	return &Publisher{nc: nc, js: js, log: log}, nil
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}

func (p *Publisher) publish(subject string, payload map[string]any) {
	if p == nil || p.js == nil {
		return
	}

	payload["timestamp"] = time.Now().Unix()
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Errorf("marshaling event for %s: %v", subject, err)
		return
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		p.log.Errorf("publishing to %s: %v", subject, err)
	}
}

func (p *Publisher) RoomCreated(code, region string, public bool) {
	p.publish(subjectRoomCreated, map[string]any{
		"code":   code,
		"region": region,
		"public": public,
	})
}

func (p *Publisher) RoomClosed(code, reason string) {
	p.publish(subjectRoomClosed, map[string]any{
		"code":   code,
		"reason": reason,
	})
}

func (p *Publisher) GameStarted(code string, players, impostors int) {
	p.publish(fmt.Sprintf(subjectGameStarted, code), map[string]any{
		"code":      code,
		"players":   players,
		"impostors": impostors,
	})
}

func (p *Publisher) GameOver(code, winners string, rounds int) {
	p.publish(fmt.Sprintf(subjectGameOver, code), map[string]any{
		"code":    code,
		"winners": winners,
		"rounds":  rounds,
	})
}
