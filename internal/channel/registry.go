// Package channel keeps the set of messaging platforms the bridge listens on.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"convbridge/pkg/channel"
)

// Registry 渠道注册表
type Registry struct {
	plugins map[channel.ChannelType]channel.ChannelPlugin
	started []channel.ChannelPlugin
	mu      sync.RWMutex
}

// NewRegistry 创建新的渠道注册表
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[channel.ChannelType]channel.ChannelPlugin),
	}
}

// Register 注册渠道插件
func (r *Registry) Register(plugin channel.ChannelPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[plugin.ID()] = plugin
}

// Get 获取指定渠道插件
func (r *Registry) Get(id channel.ChannelType) (channel.ChannelPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// All 获取所有渠道插件，按 ID 排序
func (r *Registry) All() []channel.ChannelPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]channel.ChannelPlugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Subscribe routes events of every registered plugin to handler.
func (r *Registry) Subscribe(handler channel.EventHandler) {
	for _, p := range r.All() {
		p.OnEvent(handler)
	}
}

// StartAll 启动所有渠道插件
//
// If one plugin fails, the ones already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.All() {
		if err := p.Start(ctx); err != nil {
			startErr := fmt.Errorf("start channel %s: %w", p.ID(), err)
			if stopErr := r.StopAll(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		r.mu.Lock()
		r.started = append(r.started, p)
		r.mu.Unlock()
	}
	return nil
}

// StopAll 停止已启动的渠道插件
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.started = nil
	r.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		p := started[i]
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop channel %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Count 返回注册的插件数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
