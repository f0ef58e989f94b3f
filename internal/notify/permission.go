package notify

import (
	"context"
	"sync"
)

// Permission 通知授权三态。
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionSource 能报告自身授权状态的通知出口。
type PermissionSource interface {
	Permission() Permission
}

// AskAny 任一出口可用即授权。
func AskAny(sources ...PermissionSource) func(context.Context) Permission {
	return func(context.Context) Permission {
		res := PermissionDenied
		for _, s := range sources {
			if s == nil {
				continue
			}
			switch s.Permission() {
			case PermissionGranted:
				return PermissionGranted
			case PermissionDefault:
				res = PermissionDefault
			}
		}
		return res
	}
}

// Prompter 只在状态为 default 时询问一次；已授权或已拒绝后不再询问。
type Prompter struct {
	mu    sync.Mutex
	state Permission
	ask   func(context.Context) Permission
	asked int
}

func NewPrompter(ask func(context.Context) Permission) *Prompter {
	return &Prompter{state: PermissionDefault, ask: ask}
}

func (p *Prompter) State() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Request 由用户操作触发。
func (p *Prompter) Request(ctx context.Context) Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PermissionDefault {
		return p.state
	}
	if p.ask == nil {
		p.state = PermissionDenied
		return p.state
	}
	p.asked++
	switch got := p.ask(ctx); got {
	case PermissionGranted, PermissionDenied:
		p.state = got
	}
	return p.state
}

// Asked 实际询问次数。
func (p *Prompter) Asked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asked
}
