package http

import (
	"net/http"

	"github.com/dkeye/sfuclient/internal/app/orch"
	"github.com/dkeye/sfuclient/internal/config"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

type SessionStatus struct {
	Peer         domain.PeerID     `json:"peer"`
	Room         domain.RoomID     `json:"room"`
	Joined       bool              `json:"joined"`
	ProducerID   domain.ProducerID `json:"producer_id,omitempty"`
	Participants int               `json:"participants"`
}

func SetupRouter(cfg *config.Config, peer domain.PeerID, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		s := o.Session
		status := SessionStatus{
			Peer:         peer,
			Room:         s.Room(),
			Joined:       s.Device() != nil,
			Participants: s.Registry().Len(),
		}
		if p := s.Producer(); p != nil && !p.Closed() {
			status.ProducerID = p.ID
		}
		c.JSON(http.StatusOK, status)
	})

	api.GET("/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Session.Registry().Snapshot())
	})

	api.GET("/relays", func(c *gin.Context) {
		if o.Relays == nil {
			c.JSON(http.StatusOK, []any{})
			return
		}
		c.JSON(http.StatusOK, o.Relays.Snapshot())
	})

	api.DELETE("/participants/:id", func(c *gin.Context) {
		id := domain.ProducerID(c.Param("id"))
		if _, ok := o.Session.Registry().Get(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		log.Info().
			Str("module", "adapters.http").
			Str("producer_id", string(id)).
			Str("request_id", c.GetString("request_id")).
			Msg("local close requested")
		o.OnProducerClosed(id)
		c.Status(http.StatusNoContent)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
