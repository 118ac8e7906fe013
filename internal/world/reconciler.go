package world

import (
	"time"

	"go.uber.org/zap"

	"github.com/mmogo/client/internal/net/protocol"
)

// Hooks are the side-effect handlers the reconciler notifies, in arrival
// order, for records that reach beyond the state cache (sound and visual
// cues, dialogue/trade/quest triggers, cache write-through). Registered at
// construction; nil fields are simply skipped.
type Hooks struct {
	OnChunkLoaded    func(c Chunk)
	OnEntityRemoved  func(id int64)
	OnCollision      func(c protocol.Collision)
	OnNpcInteraction func(n protocol.NpcInteraction)
	OnChatMessage    func(m ChatMessage)
	OnCombatResult   func(r protocol.CombatResult)
	OnQuestUpdate    func(q QuestEntry)
	OnTradeUpdate    func(u protocol.TradeUpdate)
	OnServerError    func(e protocol.ServerError)
}

// Reconciler drains the session's inbound queue once per caller tick and
// merges authoritative server data into the store. It is the store's only
// writer and never blocks: one pass applies whatever is queued and returns.
type Reconciler struct {
	store *Store
	in    <-chan *protocol.Message
	hooks Hooks
	log   *zap.Logger
}

func NewReconciler(store *Store, in <-chan *protocol.Message, hooks Hooks, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, in: in, hooks: hooks, log: log}
}

// ApplyPending applies every queued record, then runs the chunk eviction
// pass. Returns the number of records applied.
func (r *Reconciler) ApplyPending(now time.Time) int {
	n := 0
drain:
	for {
		select {
		case m := <-r.in:
			r.applyOne(m, now)
			n++
		default:
			break drain
		}
	}

	for _, key := range r.store.EvictStaleChunks(now) {
		r.log.Debug("區塊逾時卸載", zap.String("chunk", key.String()))
	}
	return n
}

// applyOne classifies and applies a single record. Malformed records are
// dropped with a warning and panics are recovered, so one bad record never
// aborts the rest of the batch or the caller's loop.
func (r *Reconciler) applyOne(m *protocol.Message, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("記錄套用 panic 已恢復",
				zap.Stringer("type", m.Type),
				zap.Any("panic", rec),
			)
		}
	}()

	switch m.Type {
	case protocol.TypeServerHello:
		r.log.Debug("伺服器問候", zap.Any("data", m.Data))

	case protocol.TypeLoginResponse:
		lr := protocol.ParseLoginResponse(m)
		if lr.Success {
			r.store.ApplyLoginResponse(lr)
		}

	case protocol.TypeWorldData:
		wd, err := protocol.ParseWorldData(m)
		if err != nil {
			r.log.Warn("區塊記錄缺少必要欄位，丟棄", zap.Error(err))
			return
		}
		chunk := r.store.ApplyWorldChunk(wd, now)
		r.store.ApplyEntityBatch(wd.Entities)
		if r.hooks.OnChunkLoaded != nil {
			r.hooks.OnChunkLoaded(chunk)
		}

	case protocol.TypeEntityUpdate:
		eu := protocol.ParseEntityUpdate(m)
		r.store.ApplyEntityBatch(eu.Entities)
		for _, id := range r.store.RemoveEntities(eu.Removed) {
			if r.hooks.OnEntityRemoved != nil {
				r.hooks.OnEntityRemoved(id)
			}
		}
		for _, c := range eu.Collisions {
			if r.hooks.OnCollision != nil {
				r.hooks.OnCollision(c)
			}
		}
		for _, ni := range eu.Interactions {
			if r.hooks.OnNpcInteraction != nil {
				r.hooks.OnNpcInteraction(ni)
			}
		}

	case protocol.TypeChatBroadcast:
		cb := protocol.ParseChat(m)
		cm := ChatMessage{
			Sender:  cb.Sender,
			Message: cb.Message,
			Channel: cb.Channel,
			At:      now,
		}
		r.store.ApplyChatMessage(cm)
		if r.hooks.OnChatMessage != nil {
			r.hooks.OnChatMessage(cm)
		}

	case protocol.TypeCombatResult:
		cr, err := protocol.ParseCombatResult(m)
		if err != nil {
			r.log.Warn("戰鬥結果缺少必要欄位，丟棄", zap.Error(err))
			return
		}
		if cr.Health != nil {
			r.store.ApplyCombatHealth(cr.TargetID, *cr.Health)
		}
		if r.hooks.OnCombatResult != nil {
			r.hooks.OnCombatResult(cr)
		}

	case protocol.TypeInventoryUpdate:
		r.store.ApplyInventoryUpdate(protocol.ParseInventoryUpdate(m))

	case protocol.TypeQuestUpdate:
		qu, err := protocol.ParseQuestUpdate(m)
		if err != nil {
			r.log.Warn("任務更新缺少必要欄位，丟棄", zap.Error(err))
			return
		}
		q := QuestEntry{ID: qu.QuestID, State: qu.State, Data: qu.Data, UpdatedAt: now}
		r.store.ApplyQuestUpdate(q)
		if r.hooks.OnQuestUpdate != nil {
			r.hooks.OnQuestUpdate(q)
		}

	case protocol.TypeTradeUpdate:
		if r.hooks.OnTradeUpdate != nil {
			r.hooks.OnTradeUpdate(protocol.ParseTradeUpdate(m))
		}

	case protocol.TypeErrorMessage:
		se := protocol.ParseError(m)
		r.log.Warn("伺服器回報錯誤",
			zap.Int("code", se.Code),
			zap.String("severity", se.Severity),
			zap.String("message", se.Message),
		)
		if r.hooks.OnServerError != nil {
			r.hooks.OnServerError(se)
		}

	default:
		if !m.Type.Inbound() {
			r.log.Warn("收到用戶端範圍的訊息，忽略", zap.Stringer("type", m.Type))
			return
		}
		r.log.Debug("未處理的訊息類型", zap.Stringer("type", m.Type))
	}
}
