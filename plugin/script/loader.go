package script

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/plugin/hook"
)

// Script is one hook file. The header comments name the event it handles:
//
//	// @event before_quest_create
//	// @priority 50
//
// The script sees the payload as the global `event` and may call log(msg).
// On a before_* event a script that evaluates to false vetoes the action and
// one that evaluates to an object rewrites the payload.
type Script struct {
	Name     string
	Event    string
	Priority int
	prog     *goja.Program
}

// Parse reads the header and compiles src.
func Parse(name, src string) (*Script, error) {
	s := &Script{Name: name, Priority: 100}
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "//") {
			break
		}
		fields := strings.Fields(strings.TrimPrefix(line, "//"))
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "@event":
			s.Event = fields[1]
		case "@priority":
			p, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("script %s: bad priority %q", name, fields[1])
			}
			s.Priority = p
		}
	}
	if s.Event == "" {
		return nil, fmt.Errorf("script %s: missing @event header", name)
	}
	prog, err := Compile(name, src)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	s.prog = prog
	return s, nil
}

// HookName is the name the script registers under.
func (s *Script) HookName() string { return "script:" + s.Name }

// Handler adapts the script to a hook handler. Script errors are logged and
// leave the payload unchanged.
func (s *Script) Handler(sb *Sandbox, logger *zap.Logger) hook.HookFn {
	log := logger.With(zap.String("script", s.Name))
	return func(ctx context.Context, event string, data any) (any, error) {
		payload, err := toMap(data)
		if err != nil {
			log.Warn("script payload encode failed", zap.Error(err))
			return data, nil
		}
		out, err := sb.Run(ctx, s.prog, Globals{
			"event": payload,
			"log":   func(msg string) { log.Info(msg, zap.String("event", event)) },
		})
		if err != nil {
			log.Warn("script failed", zap.String("event", event), zap.Error(err))
			return data, nil
		}
		switch v := out.(type) {
		case bool:
			if !v {
				return data, hook.ErrInterrupt
			}
		case map[string]any:
			rewritten, err := overlay(data, v)
			if err != nil {
				log.Warn("script result rejected", zap.Error(err))
				return data, nil
			}
			return rewritten, nil
		}
		return data, nil
	}
}

func toMap(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// overlay decodes m over a copy of *data. Non-pointer payloads are
// notifications and are returned as is.
func overlay(data any, m map[string]any) (any, error) {
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return data, nil
	}
	cp := reflect.New(rv.Elem().Type())
	cp.Elem().Set(rv.Elem())
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, cp.Interface()); err != nil {
		return nil, err
	}
	return cp.Interface(), nil
}

// LoadDir parses every *.js file in dir, in name order, and registers each
// on hooks. It returns the loaded scripts.
func LoadDir(dir string, sb *Sandbox, hooks *hook.HookCenter, logger *zap.Logger) ([]*Script, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.js"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	scripts := make([]*Script, 0, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("script: read %s: %w", p, err)
		}
		s, err := Parse(filepath.Base(p), string(src))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	for _, s := range scripts {
		hooks.Register(s.Event, s.Priority, s.HookName(), s.Handler(sb, logger))
		logger.Info("script hook loaded",
			zap.String("script", s.Name),
			zap.String("event", s.Event),
			zap.Int("priority", s.Priority))
	}
	return scripts, nil
}
