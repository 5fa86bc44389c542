package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/delivery"
	"github.com/flowmessage/chat-app/internal/httpapi"
	"github.com/flowmessage/chat-app/internal/metrics"
	"github.com/flowmessage/chat-app/internal/presence"
	"github.com/flowmessage/chat-app/internal/protocol"
	"github.com/flowmessage/chat-app/internal/store"
	"github.com/flowmessage/chat-app/internal/user"
	"github.com/flowmessage/chat-app/internal/ws"
)

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	storageTimeout := 5 * time.Second
	if v := os.Getenv("STORAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			storageTimeout = d
		}
	}

	config := ws.DefaultServerConfig()
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Storage ---
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	result, err := db.Migrate()
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("schema at version %d (dirty=%v)", result.Version, result.Dirty)

	// --- Redis (optional user cache) ---
	var cache *user.Cache
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cache, err = user.NewCache(redisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer cache.Close()
	}

	users := user.NewService(user.NewStore(db), cache)
	resolver := chat.NewResolver(db)
	messages := chat.NewStore(db)
	registry := presence.NewRegistry()
	router := delivery.NewRouter(messages, registry)

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  storage_timeout: %s", storageTimeout)
	log.Printf("  redis_cache:     %v", cache != nil)

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// userConnected: bind the connection to a user and mark them present.
	// Clients re-emit this periodically, which is a harmless no-op while the
	// binding is unchanged.
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeUserConnected, func(conn *ws.Connection, msg interface{}) {
		announce, ok := msg.(protocol.UserConnectedMsg)
		if !ok {
			return
		}
		if announce.UserID <= 0 {
			log.Printf("userConnected with invalid user id %d from conn=%s", announce.UserID, conn.ID)
			return
		}

		conn.BindUser(announce.UserID)
		registry.Connect(announce.UserID, conn)
	})

	server := ws.NewServer(config, dispatcher.Dispatch)

	// Every presence change broadcasts the full snapshot to all clients.
	registry.SetOnChange(func(online []int64) {
		metrics.OnlineUsers.Set(float64(len(online)))
		data, err := protocol.NewServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
			UserIDs: online,
		})
		if err != nil {
			log.Printf("failed to build onlineUsers broadcast: %v", err)
			return
		}
		server.Connections().Broadcast(data)
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		if registry.Disconnect(conn.SessionID()) {
			log.Printf("user %d went offline (conn=%s)", conn.UserID(), conn.ID)
		}
	})

	if err := server.Start(); err != nil {
		log.Fatalf("gateway error: %v", err)
	}

	api := httpapi.NewServer(users, resolver, messages, router, server, storageTimeout)
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: api.Routes(),
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("gateway shutdown error: %v", err)
		}
		if err := httpServer.Close(); err != nil {
			log.Printf("http server close error: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
