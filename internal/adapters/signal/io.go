package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Client) writePump(ctx context.Context) {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-tick:
			if err := c.sendPing(); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("ping not queued")
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		c.Close()
	}()

	for {
		if c.opts.PingPeriod > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingPeriod))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case typeAck:
		if !c.resolve(env) {
			log.Warn().Str("module", "signal").Uint64("id", env.ID).Msg("ack for unknown request")
		}
	case typePong:
		log.Debug().Str("module", "signal").Msg("pong")
	case "":
		log.Warn().Str("module", "signal").Msg("frame without type")
	default:
		select {
		case c.events <- env:
		case <-ctx.Done():
		}
	}
}

// dispatch runs event handlers one at a time in arrival order.
func (c *Client) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.events:
			c.hmu.RLock()
			fn, ok := c.handlers[env.Type]
			c.hmu.RUnlock()
			if !ok {
				log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
				continue
			}
			fn(env.Data)
		}
	}
}
