package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mmogo/client/internal/client"
	"github.com/mmogo/client/internal/config"
	gamenet "github.com/mmogo/client/internal/net"
	"github.com/mmogo/client/internal/net/protocol"
	"github.com/mmogo/client/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(host string, port int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            mmoclient  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       MMO 遊戲客戶端 · 示範機器人         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(埠: %d)\033[0m\n\n", host, port)
}

func printSection(title string) {
	// Use rune count for CJK width calculation (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	// Use display width for CJK characters
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := 42 - displayWidth - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main client logic ─────────────────────────────────────────────

const (
	tickRate     = 50 * time.Millisecond
	snapshotPath = "cache/world.json"
	chunkRadius  = 1 // request a 3x3 around the player
	chunkSize    = 16.0
)

func run() error {
	// 1. Load config
	cfgPath := "config/client.toml"
	if p := os.Getenv("MMOCLIENT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.Getenv("MMOCLIENT_CONFIG") != "" {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Host, cfg.Server.Port)

	// 3. Build the client stack
	printSection("初始化")

	gc, err := client.New(cfg, gameHooks(log), log)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer gc.Disconnect()
	printOK("世界狀態與快取就緒")
	printStat("技能表", gc.Abilities().Count())

	gc.SetStateCallback(func(st gamenet.SessionState) {
		log.Info("連線狀態變更", zap.Stringer("state", st))
	})

	// Warm the view from the last session before any packet arrives.
	if err := gc.LoadSnapshot(snapshotPath); err == nil {
		printOK("世界快照已還原")
	}
	fmt.Println()

	// 4. Connect (with reconnect policy on first failure too)
	printSection("連線")
	if err := gc.Reconnect(); err != nil {
		return err
	}
	printOK(fmt.Sprintf("已連上 %s:%d", cfg.Server.Host, cfg.Server.Port))
	fmt.Println()

	// 5. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()
	pinger := time.NewTicker(cfg.Network.PingInterval)
	defer pinger.Stop()

	printSection("客戶端就緒")
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s)", tickRate))
	fmt.Println()

	bot := newWanderBot()
	lastChunk := world.ChunkKey{X: math.MaxInt32, Z: math.MaxInt32}

	for {
		select {
		case <-ticker.C:
			gc.Update(tickRate.Seconds())

			if !gc.Connected() {
				log.Warn("連線中斷，嘗試重連")
				if err := gc.Reconnect(); err != nil {
					return err
				}
				continue
			}

			bot.step(gc, tickRate.Seconds())

			if key := playerChunk(gc); key != lastChunk {
				lastChunk = key
				for dx := -chunkRadius; dx <= chunkRadius; dx++ {
					for dz := -chunkRadius; dz <= chunkRadius; dz++ {
						gc.RequestChunk(key.X+dx, key.Z+dz)
					}
				}
			}

		case <-pinger.C:
			gc.Ping()
			m := gc.Metrics()
			log.Debug("連線統計",
				zap.Uint64("sent", m.PacketsSent),
				zap.Uint64("recv", m.PacketsReceived),
				zap.Duration("latency", m.Latency))

		case <-shutdownCh:
			fmt.Println()
			log.Info("收到關閉信號")
			if err := gc.SaveSnapshot(snapshotPath); err != nil {
				log.Warn("世界快照儲存失敗", zap.Error(err))
			} else {
				log.Info("世界快照已儲存", zap.String("path", snapshotPath))
			}
			log.Info("客戶端已停止")
			return nil
		}
	}
}

func playerChunk(gc *client.GameClient) world.ChunkKey {
	p := gc.Player()
	return world.ChunkKey{
		X: int(math.Floor(p.Position[0] / chunkSize)),
		Z: int(math.Floor(p.Position[2] / chunkSize)),
	}
}

// gameHooks logs the server-driven events a real renderer would react to.
func gameHooks(log *zap.Logger) world.Hooks {
	return world.Hooks{
		OnChunkLoaded: func(c world.Chunk) {
			log.Debug("區塊載入", zap.String("chunk", c.Key.String()))
		},
		OnChatMessage: func(m world.ChatMessage) {
			log.Info("聊天", zap.String("from", m.Sender), zap.String("msg", m.Message))
		},
		OnCombatResult: func(r protocol.CombatResult) {
			log.Info("戰鬥結果",
				zap.Int64("target", r.TargetID),
				zap.Float64("damage", r.Damage),
				zap.Bool("fatal", r.Fatal))
		},
		OnQuestUpdate: func(q world.QuestEntry) {
			log.Info("任務更新", zap.String("quest", q.ID), zap.String("state", q.State))
		},
		OnServerError: func(e protocol.ServerError) {
			log.Warn("伺服器錯誤",
				zap.Int("code", e.Code),
				zap.String("severity", e.Severity),
				zap.String("message", e.Message))
		},
	}
}

// wanderBot drives a slow random walk so the demo generates movement and
// chunk traffic without user input.
type wanderBot struct {
	heading  float64
	retarget float64
}

func newWanderBot() *wanderBot {
	return &wanderBot{heading: rand.Float64() * 2 * math.Pi}
}

func (b *wanderBot) step(gc *client.GameClient, dt float64) {
	b.retarget -= dt
	if b.retarget <= 0 {
		b.heading += (rand.Float64() - 0.5) * math.Pi / 2
		b.retarget = 2 + rand.Float64()*3
	}

	const speed = 3.0 // m/s
	p := gc.Player()
	vel := [3]float64{math.Cos(b.heading) * speed, 0, math.Sin(b.heading) * speed}
	pos := [3]float64{
		p.Position[0] + vel[0]*dt,
		p.Position[1],
		p.Position[2] + vel[2]*dt,
	}
	rot := [4]float64{0, math.Sin(b.heading / 2), 0, math.Cos(b.heading / 2)}
	gc.SendMovement(pos, rot, vel)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
