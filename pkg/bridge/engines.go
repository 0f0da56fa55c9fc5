package bridge

import (
	"fmt"
	"sort"

	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/justyntemme/scriptfx/pkg/script/hclengine"
	"github.com/justyntemme/scriptfx/pkg/script/jsengine"
)

var engines = map[string]func() script.Engine{
	hclengine.Name: func() script.Engine { return hclengine.New() },
	jsengine.Name:  func() script.Engine { return jsengine.New() },
}

// NewEngine returns the script engine registered under name.
func NewEngine(name string) (script.Engine, error) {
	mk, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("bridge: unknown engine %q (have %v)", name, EngineNames())
	}
	return mk(), nil
}

// EngineNames lists the registered engines.
func EngineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
