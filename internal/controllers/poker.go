package controllers

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/pointdeck-project/backend/internal/events"
	"github.com/pointdeck-project/backend/internal/jsonrpc"
	"github.com/pointdeck-project/backend/internal/router"
	"github.com/pointdeck-project/backend/internal/scale"
)

var _ router.Controller = (*PokerController)(nil)

var (
	wsPool = new(sync.Pool)
)

// PokerController exposes the JSON-RPC surface: commands work over both
// transports, subscriptions need the websocket one.
type PokerController struct {
	DB           *bun.DB
	Bus          events.Bus
	InviteSecret string

	upgrader *websocket.Upgrader
	rpc      *rpc.Server
}

func (c *PokerController) handlePokerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Error("failed to upgrade connection", zap.Error(err))
		return
	}

	codec := rpc.NewFuncCodec(conn, conn.WriteJSON, conn.ReadJSON)
	c.rpc.ServeCodec(codec, 0)
}

func (c *PokerController) Register(router *mux.Router) {
	c.upgrader = &websocket.Upgrader{
		HandshakeTimeout:  10 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WriteBufferPool:   wsPool,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: need allowed domains from the configuration
			return true
		},
	}

	// Set up JSON-RPC services
	c.rpc = rpc.NewServer()
	scales := scale.NewProvider(c.DB)

	services := map[string]interface{}{
		"game":   jsonrpc.NewGameService(c.DB, c.Bus, scales),
		"room":   jsonrpc.NewRoomService(c.DB, c.Bus),
		"player": jsonrpc.NewPlayerService(c.DB, c.Bus, c.InviteSecret),
	}
	for name, svc := range services {
		if err := c.rpc.RegisterName(name, svc); err != nil {
			zap.L().Fatal("failed to register rpc service", zap.String("service", name), zap.Error(err))
		}
	}

	router.HandleFunc("/poker/ws", c.handlePokerWS).Methods(http.MethodGet)
	router.Handle("/poker/rpc", c.rpc).Methods(http.MethodPost)
}
