// Package tools 维护可供模型调用的工具描述。
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Registry holds tool descriptors by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*schema.ToolInfo
}

// NewRegistry 创建一个空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*schema.ToolInfo)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(info *schema.ToolInfo) error {
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool descriptor requires a name")
	}

	r.mu.Lock()
	r.tools[info.Name] = info
	r.mu.Unlock()
	return nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos resolves names to descriptors, skipping unknown names.
func (r *Registry) Infos(names []string) []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.tools[name]; ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Len 返回已注册工具数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
