// Package gateway implements spec.md §4.7's ConnectionGateway: the
// WebSocket entry point that resolves or creates an adventure and hands it
// to a session.Engine for the life of the connection.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"adventure.app/engine/common"
	"adventure.app/engine/common/logger"
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/session"
	"adventure.app/engine/internal/store"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenVerifier authenticates an optional bearer token. A verifier that
// returns ("", true, nil) for an empty token treats the connection as a
// guest; ok is false only when a non-empty token failed verification.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, ok bool, err error)
}

// NoopVerifier accepts every token as a guest connection with no user_id.
// Used when the deployment has no auth provider configured.
type NoopVerifier struct{}

func (NoopVerifier) Verify(ctx context.Context, token string) (string, bool, error) {
	return "", true, nil
}

// Gateway wires incoming WebSocket connections to a fresh or resumed
// session.Engine, per spec.md §4.7.
type Gateway struct {
	verifier TokenVerifier
	store    store.StateStore
	newDeps  func() session.Deps

	storyLengthDefault int
	writeTimeout       time.Duration
}

// Config bundles Gateway construction options.
type Config struct {
	Verifier           TokenVerifier
	Store              store.StateStore
	NewDeps            func() session.Deps
	StoryLengthDefault int
	WriteTimeout       time.Duration
}

// New constructs a Gateway. A nil Verifier falls back to NoopVerifier.
func New(cfg Config) *Gateway {
	v := cfg.Verifier
	if v == nil {
		v = NoopVerifier{}
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}
	return &Gateway{
		verifier:           v,
		store:              cfg.Store,
		newDeps:            cfg.NewDeps,
		storyLengthDefault: cfg.StoryLengthDefault,
		writeTimeout:       writeTimeout,
	}
}

// RegisterRoutes mounts the WebSocket endpoint and health checks onto r.
func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/ws/:story_category/:lesson_topic", g.handleUpgrade)
}

func (g *Gateway) handleUpgrade(c *gin.Context) {
	// story_category/lesson_topic come straight off the URL path, but they
	// also double as StateStore lookup keys — slugify them so two spellings
	// of the same topic ("Human Body" vs "human-body") resolve to the same
	// active adventure instead of silently forking it.
	storyCategory, err := common.Slugify(c.Param("story_category"), "story")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing story_category"})
		return
	}
	lessonTopic, err := common.Slugify(c.Param("lesson_topic"), "")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing lesson_topic"})
		return
	}
	token := bearerToken(c.GetHeader("Authorization"))
	clientUUID := c.Query("client_uuid")
	if clientUUID == "" {
		clientUUID = uuid.NewString()
	}

	ctx := c.Request.Context()
	userID, ok, err := g.verifier.Verify(ctx, token)
	conn, acceptErr := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin allowlisting is deployment config, not engine logic
	})
	if acceptErr != nil {
		slog.ErrorContext(ctx, "websocket accept failed", "error", acceptErr)
		return
	}

	if err != nil {
		g.closePolicy(ctx, conn, "token verification failed")
		return
	}
	if !ok {
		g.closePolicy(ctx, conn, "invalid token")
		return
	}

	g.HandleConnection(ctx, conn, userID, clientUUID, storyCategory, lessonTopic)
}

func (g *Gateway) closePolicy(ctx context.Context, conn *websocket.Conn, reason string) {
	if err := conn.Close(websocket.StatusPolicyViolation, reason); err != nil {
		slog.WarnContext(ctx, "error closing rejected websocket", "error", err)
	}
}

// HandleConnection resolves or creates the adventure for (userID OR
// clientUUID, storyCategory, lessonTopic), builds its Engine, and relays
// frames until the socket closes. Exported so an in-process test dialer can
// drive it directly without an HTTP round trip.
func (g *Gateway) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID, clientUUID, storyCategory, lessonTopic string) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	deps := g.newDeps()

	state, existing, err := g.resolveState(ctx, userID, clientUUID, storyCategory, lessonTopic)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve adventure state", "error", err)
		conn.Close(websocket.StatusInternalError, "state resolution failed")
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AdventureID: logger.Ptr(state.AdventureID),
		ClientUUID:  logger.Ptr(clientUUID),
	})

	var eng *session.Engine
	if existing {
		eng = session.Resume(ctx, deps, state)
	} else {
		eng = session.New(ctx, deps, state)
	}

	done := make(chan struct{})
	go g.relayOutbound(ctx, conn, eng, done)
	g.relayInbound(ctx, conn, eng)

	eng.Disconnect()
	<-done
}

func (g *Gateway) resolveState(ctx context.Context, userID, clientUUID, storyCategory, lessonTopic string) (*model.AdventureState, bool, error) {
	state, err := g.store.FindActive(ctx, userID, clientUUID, storyCategory, lessonTopic)
	if err == nil {
		return state, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	fresh := model.NewAdventureState(clientUUID, userID, storyCategory, lessonTopic, g.storyLengthDefault, "")
	return fresh, false, nil
}

func (g *Gateway) relayInbound(ctx context.Context, conn *websocket.Conn, eng *session.Engine) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return // socket closed, reset, or context canceled
		}
		if err := eng.HandleInbound(ctx, data); err != nil {
			slog.WarnContext(ctx, "inbound message rejected", "error", err)
		}
	}
}

func (g *Gateway) relayOutbound(ctx context.Context, conn *websocket.Conn, eng *session.Engine, done chan<- struct{}) {
	defer close(done)
	for frame := range eng.Outbound() {
		writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
		err := writeFrame(writeCtx, conn, frame)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "failed to write outbound frame", "error", err)
			return
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame session.Frame) error {
	if frame.RawText != "" {
		return conn.Write(ctx, websocket.MessageText, []byte(frame.RawText))
	}
	payload, err := frame.Marshal()
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
