package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM running the client-side cue scripts:
// collision effects, NPC dialogue/trade/quest triggers, chat filters,
// combat feedback. Single-goroutine access only — every hook is invoked
// from the caller's update tick through the reconciler.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every .lua file from hooksDir.
// A missing directory is not an error; the engine just has no hooks.
func NewEngine(hooksDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(hooksDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load hook scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua hook script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) Close() {
	e.vm.Close()
}

// call invokes a Lua global if defined. Script errors are logged and
// swallowed: a broken cue script never reaches the reconciler's loop.
func (e *Engine) call(name string, args ...lua.LValue) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		e.log.Warn("lua hook 執行失敗",
			zap.String("hook", name),
			zap.Error(err),
		)
	}
}

// OnCollision calls the on_collision(entity1, entity2, point) hook.
func (e *Engine) OnCollision(entity1, entity2 int64, point [3]float64) {
	e.call("on_collision",
		lua.LNumber(entity1),
		lua.LNumber(entity2),
		e.vecTable(point),
	)
}

// OnNpcInteraction calls on_npc_interaction(npc_id, kind, data).
func (e *Engine) OnNpcInteraction(npcID int64, kind string, data map[string]any) {
	e.call("on_npc_interaction",
		lua.LNumber(npcID),
		lua.LString(kind),
		e.mapTable(data),
	)
}

// OnChatMessage calls on_chat_message(sender, message, channel).
func (e *Engine) OnChatMessage(sender, message, channel string) {
	e.call("on_chat_message",
		lua.LString(sender),
		lua.LString(message),
		lua.LString(channel),
	)
}

// OnCombatResult calls on_combat_result(target_id, damage, fatal).
func (e *Engine) OnCombatResult(targetID int64, damage float64, fatal bool) {
	e.call("on_combat_result",
		lua.LNumber(targetID),
		lua.LNumber(damage),
		lua.LBool(fatal),
	)
}

// OnQuestUpdate calls on_quest_update(quest_id, state).
func (e *Engine) OnQuestUpdate(questID, state string) {
	e.call("on_quest_update",
		lua.LString(questID),
		lua.LString(state),
	)
}

func (e *Engine) vecTable(v [3]float64) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("x", lua.LNumber(v[0]))
	t.RawSetString("y", lua.LNumber(v[1]))
	t.RawSetString("z", lua.LNumber(v[2]))
	return t
}

func (e *Engine) mapTable(data map[string]any) *lua.LTable {
	t := e.vm.NewTable()
	for k, v := range data {
		switch val := v.(type) {
		case string:
			t.RawSetString(k, lua.LString(val))
		case float64:
			t.RawSetString(k, lua.LNumber(val))
		case int:
			t.RawSetString(k, lua.LNumber(val))
		case int64:
			t.RawSetString(k, lua.LNumber(val))
		case bool:
			t.RawSetString(k, lua.LBool(val))
		}
	}
	return t
}
