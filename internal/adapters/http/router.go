package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/voicepresence/internal/adapters/auth"
	"github.com/dkeye/voicepresence/internal/adapters/signal"
	"github.com/dkeye/voicepresence/internal/app/orch"
	"github.com/dkeye/voicepresence/internal/config"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable anonymous id, kept in the
// cookie session. It is only used to correlate log lines.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// bearer pulls the access token from ?token= or an Authorization header.
// Browsers cannot set headers on websocket requests, hence the query form.
func bearer(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return t
	}
	return ""
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:       cfg.ReadLimit,
		PingPeriod:      cfg.PingPeriod,
		TokenWarnBefore: cfg.TokenWarnBefore,
		Secret:          cfg.Secret,
		JoinLimit:       cfg.JoinLimit,
		JoinWindow:      cfg.JoinWindow,
		STUNURLs:        cfg.STUNURLs,
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		room, ok := o.Rooms.GetRoom(domain.ChannelID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, room.MembersSnapshot())
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		claims, err := auth.ValidateAccessToken(bearer(c), cfg.Secret)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws signal rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", claims.UserID).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, claims)
	})

	// Token minting stands in for a real identity provider during development.
	if cfg.Mode == "debug" {
		api.POST("/token", func(c *gin.Context) {
			var req struct {
				ID      string `json:"id" binding:"required"`
				Name    string `json:"name"`
				Picture string `json:"picture"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			id, err := domain.NewIdentity(domain.UserID(req.ID), req.Name, req.Picture)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tok, err := auth.GenerateAccessToken(*id, cfg.Secret, cfg.TokenTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": tok})
		})
	}

	return r
}
