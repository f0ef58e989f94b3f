package poller

import "sync"

// Visibility 页面可见性：由仪表盘客户端上报，引擎据此跳过隐藏时的定时拉取。
type Visibility struct {
	mu        sync.Mutex
	hidden    bool
	listeners map[int]func(hidden bool)
	nextID    int
}

func NewVisibility() *Visibility {
	return &Visibility{listeners: make(map[int]func(bool))}
}

func (v *Visibility) Hidden() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hidden
}

// SetHidden 只有状态真正变化时才通知监听者。
func (v *Visibility) SetHidden(hidden bool) {
	v.mu.Lock()
	if v.hidden == hidden {
		v.mu.Unlock()
		return
	}
	v.hidden = hidden
	fns := make([]func(bool), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(hidden)
	}
}

// OnChange 注册监听，返回的 remove 可重复调用。
func (v *Visibility) OnChange(fn func(hidden bool)) (remove func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

func (v *Visibility) listenerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}
