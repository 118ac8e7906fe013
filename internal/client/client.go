// Package client wires the transport session, world store and reconciler,
// chunk cache, scripting hooks and data tables into one game client.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/config"
	"github.com/mmogo/client/internal/data"
	gamenet "github.com/mmogo/client/internal/net"
	"github.com/mmogo/client/internal/net/protocol"
	"github.com/mmogo/client/internal/persist"
	"github.com/mmogo/client/internal/scripting"
	"github.com/mmogo/client/internal/world"
)

var (
	ErrUnknownAbility = errors.New("unknown ability")
	ErrOnCooldown     = errors.New("ability on cooldown")
)

// cachedChunk is a cache hit waiting to be merged into the store on the next
// Update pass.
type cachedChunk struct {
	cx, cz  int
	terrain [][]float64
	water   float64
}

// GameClient is the top-level facade. Connect/Disconnect manage the session,
// Update drives reconciliation once per frame, and the intent methods map to
// outbound records. All state reads go through the store's copying accessors,
// so the renderer may call them from any goroutine.
type GameClient struct {
	cfg   *config.Config
	log   *zap.Logger
	hooks world.Hooks

	session    *gamenet.Session
	store      *world.Store
	reconciler *world.Reconciler
	policy     gamenet.ReconnectPolicy

	cache     *persist.ChunkCache
	engine    *scripting.Engine
	abilities *data.AbilityTable

	cacheHits chan cachedChunk

	mu       sync.Mutex // guards cache handle and cooldown book-keeping
	lastCast map[string]time.Time
}

// New builds a client from config. The caller's hooks run after the built-in
// ones (cache write-through, lua cues).
func New(cfg *config.Config, hooks world.Hooks, log *zap.Logger) (*GameClient, error) {
	c := &GameClient{
		cfg:       cfg,
		log:       log,
		hooks:     hooks,
		store:     world.NewStore(log),
		policy:    gamenet.ReconnectPolicy(cfg.Reconnect),
		cacheHits: make(chan cachedChunk, 64),
		lastCast:  make(map[string]time.Time),
	}

	if cfg.Cache.Enabled {
		cache, err := persist.Open(cfg.Cache.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open chunk cache: %w", err)
		}
		c.cache = cache
	}
	if cfg.Scripts.Enabled {
		engine, err := scripting.NewEngine(cfg.Scripts.Dir, log)
		if err != nil {
			c.closeCache()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		c.engine = engine
	}
	if cfg.Data.Abilities != "" {
		table, err := data.LoadAbilityTable(cfg.Data.Abilities)
		if err != nil {
			log.Warn("技能表載入失敗，技能停用", zap.String("path", cfg.Data.Abilities), zap.Error(err))
			table = &data.AbilityTable{}
		}
		c.abilities = table
	} else {
		c.abilities = &data.AbilityTable{}
	}

	c.session = gamenet.NewSession(gamenet.Options{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		PlayerName:        cfg.Server.PlayerName,
		AuthToken:         cfg.Server.AuthToken,
		Transport:         cfg.Network.Transport,
		ConnectTimeout:    cfg.Network.ConnectTimeout,
		WriteTimeout:      cfg.Network.WriteTimeout,
		JoinTimeout:       cfg.Network.JoinTimeout,
		InQueueSize:       cfg.Network.InQueueSize,
		OutQueueSize:      cfg.Network.OutQueueSize,
		CompressThreshold: cfg.Network.CompressThreshold,
		MovementPerSec:    cfg.Network.MovementPerSec,
	}, log)
	c.reconciler = world.NewReconciler(c.store, c.session.InQueue, c.buildHooks(), log)
	return c, nil
}

// buildHooks layers the built-in side effects under the caller's hooks.
func (c *GameClient) buildHooks() world.Hooks {
	user := c.hooks
	return world.Hooks{
		OnChunkLoaded: func(ch world.Chunk) {
			if cache := c.cacheHandle(); cache != nil {
				cache.Put(ch.Key.X, ch.Key.Z, ch.Terrain, ch.WaterLevel)
			}
			if user.OnChunkLoaded != nil {
				user.OnChunkLoaded(ch)
			}
		},
		OnEntityRemoved: user.OnEntityRemoved,
		OnCollision: func(col protocol.Collision) {
			if c.engine != nil {
				c.engine.OnCollision(col.Entity1, col.Entity2, col.Point)
			}
			if user.OnCollision != nil {
				user.OnCollision(col)
			}
		},
		OnNpcInteraction: func(n protocol.NpcInteraction) {
			if c.engine != nil {
				c.engine.OnNpcInteraction(n.NpcID, n.Kind, n.Data)
			}
			if user.OnNpcInteraction != nil {
				user.OnNpcInteraction(n)
			}
		},
		OnChatMessage: func(m world.ChatMessage) {
			if c.engine != nil {
				c.engine.OnChatMessage(m.Sender, m.Message, m.Channel)
			}
			if user.OnChatMessage != nil {
				user.OnChatMessage(m)
			}
		},
		OnCombatResult: func(r protocol.CombatResult) {
			if c.engine != nil {
				c.engine.OnCombatResult(r.TargetID, r.Damage, r.Fatal)
			}
			if user.OnCombatResult != nil {
				user.OnCombatResult(r)
			}
		},
		OnQuestUpdate: func(q world.QuestEntry) {
			if c.engine != nil {
				c.engine.OnQuestUpdate(q.ID, q.State)
			}
			if user.OnQuestUpdate != nil {
				user.OnQuestUpdate(q)
			}
		},
		OnTradeUpdate: user.OnTradeUpdate,
		OnServerError: user.OnServerError,
	}
}

func (c *GameClient) Connect() error  { return c.session.Connect() }
func (c *GameClient) Connected() bool { return c.session.Connected() }
func (c *GameClient) PlayerID() int64 { return c.session.PlayerID() }
func (c *GameClient) SetStateCallback(fn func(gamenet.SessionState)) {
	c.session.SetStateCallback(fn)
}

// Reconnect retries Connect under the configured policy, sleeping between
// attempts. Returns the last connect error once attempts are exhausted.
func (c *GameClient) Reconnect() error {
	var err error
	for attempt := 0; !c.policy.Exhausted(attempt); attempt++ {
		if attempt > 0 {
			delay := c.policy.Delay(attempt - 1)
			c.log.Info("重新連線等待中",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			time.Sleep(delay)
		}
		if err = c.Connect(); err == nil {
			return nil
		}
		c.log.Warn("重新連線失敗", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("reconnect: %w", err)
}

// Disconnect logs out, stops the session loops and releases the cache and
// script engine. The client cannot be reused after Disconnect; the session
// itself can be reconnected until then.
func (c *GameClient) Disconnect() {
	c.session.Disconnect()
	c.closeCache()
	if c.engine != nil {
		c.engine.Close()
	}
}

func (c *GameClient) closeCache() {
	c.mu.Lock()
	cache := c.cache
	c.cache = nil
	c.mu.Unlock()
	if cache == nil {
		return
	}
	if err := cache.Close(); err != nil {
		c.log.Warn("區塊快取關閉失敗", zap.Error(err))
	}
}

// cacheHandle reads the cache field under the lock; Disconnect nils it
// while probes and hook dispatches may still be running.
func (c *GameClient) cacheHandle() *persist.ChunkCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}

// Update advances the world clock by dt seconds, merges any cache hits, and
// applies all pending server records. Call once per frame from the render
// goroutine. Returns the number of records applied.
func (c *GameClient) Update(dt float64) int {
	now := time.Now()
	c.store.AdvanceClock(dt)
	c.drainCacheHits(now)
	return c.reconciler.ApplyPending(now)
}

func (c *GameClient) drainCacheHits(now time.Time) {
	for {
		select {
		case hit := <-c.cacheHits:
			// Only fill chunks the server hasn't delivered yet.
			if _, ok := c.store.ChunkAt(world.ChunkKey{X: hit.cx, Z: hit.cz}, now); ok {
				continue
			}
			ch := c.store.ApplyWorldChunk(protocol.WorldData{
				ChunkX:     hit.cx,
				ChunkZ:     hit.cz,
				Terrain:    hit.terrain,
				WaterLevel: hit.water,
			}, now)
			if c.hooks.OnChunkLoaded != nil {
				c.hooks.OnChunkLoaded(ch)
			}
			c.log.Debug("區塊自快取載入", zap.String("chunk", ch.Key.String()))
		default:
			return
		}
	}
}

// RequestChunk asks the server for a chunk and, in parallel, probes the local
// cache so terrain can show up before the reply lands.
func (c *GameClient) RequestChunk(cx, cz int) {
	c.session.RequestChunk(cx, cz)
	cache := c.cacheHandle()
	if cache == nil {
		return
	}
	// The probe keeps its own handle; a closed DB surfaces as a Get error.
	go func() {
		terrain, water, ok, err := cache.Get(cx, cz)
		if err != nil || !ok {
			return
		}
		select {
		case c.cacheHits <- cachedChunk{cx: cx, cz: cz, terrain: terrain, water: water}:
		default:
		}
	}()
}

// Intents.

// Login re-sends credentials on an open connection (Connect already sends the
// initial hello/login pair).
func (c *GameClient) Login() error { return c.session.Login() }

func (c *GameClient) Logout() { c.session.Logout() }

func (c *GameClient) SendMovement(pos [3]float64, rot [4]float64, vel [3]float64) {
	c.session.SendMovement(pos, rot, vel)
}

func (c *GameClient) SendChat(message, channel, target string) error {
	return c.session.SendChat(message, channel, target)
}

func (c *GameClient) Interact(entityID int64, interactionType string, extra map[string]any) error {
	return c.session.SendInteraction(entityID, interactionType, extra)
}

func (c *GameClient) Attack(targetID int64) error {
	return c.session.SendCombatAction(targetID, "attack", "", c.playerPos())
}

// CastAbility gates the cast on the ability table's cooldown before sending.
// The server still validates; this just avoids spamming doomed requests.
func (c *GameClient) CastAbility(abilityID string, targetID int64) error {
	ab := c.abilities.Get(abilityID)
	if ab == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAbility, abilityID)
	}
	now := time.Now()
	c.mu.Lock()
	if last, ok := c.lastCast[abilityID]; ok && now.Sub(last) < ab.Cooldown {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s (%s left)", ErrOnCooldown, abilityID,
			(ab.Cooldown - now.Sub(last)).Round(time.Millisecond))
	}
	c.lastCast[abilityID] = now
	c.mu.Unlock()
	return c.session.SendCombatAction(targetID, "ability", abilityID, c.playerPos())
}

func (c *GameClient) InventoryAction(action, itemID string, quantity int) error {
	return c.session.SendInventoryAction(action, itemID, quantity)
}

func (c *GameClient) QuestAction(questID, action string) error {
	return c.session.SendQuestAction(questID, action)
}

func (c *GameClient) RequestTrade(targetID int64, offer map[string]any) error {
	return c.session.SendTradeRequest(targetID, offer)
}

func (c *GameClient) Ping() { c.session.Ping() }

func (c *GameClient) playerPos() [3]float64 {
	return [3]float64(c.store.Player().Position)
}

// State accessors, all returning copies.

func (c *GameClient) Player() world.PlayerState { return c.store.Player() }

func (c *GameClient) Entity(id int64) (world.EntityState, bool) { return c.store.Entity(id) }

func (c *GameClient) Entities() []world.EntityState { return c.store.Entities() }

func (c *GameClient) ChatMessages() []world.ChatMessage { return c.store.ChatMessages() }

func (c *GameClient) Quests() []world.QuestEntry { return c.store.Quests() }

func (c *GameClient) GameTime() float64 { return c.store.GameTime() }

func (c *GameClient) TimeOfDay() float64 { return c.store.TimeOfDay() }

func (c *GameClient) Metrics() gamenet.Metrics { return c.session.Metrics() }

func (c *GameClient) Abilities() *data.AbilityTable { return c.abilities }

func (c *GameClient) NearbyEntities(radius float64) []world.EntityState {
	return c.store.NearbyEntities(c.store.Player().Position, radius)
}

func (c *GameClient) LoadedChunkKeys() []world.ChunkKey { return c.store.LoadedChunkKeys() }

// SaveSnapshot and LoadSnapshot persist the visible world between runs so a
// restart can show terrain and entities before the server catches it up.
func (c *GameClient) SaveSnapshot(path string) error { return c.store.SaveFile(path) }
func (c *GameClient) LoadSnapshot(path string) error { return c.store.LoadFile(path, time.Now()) }
