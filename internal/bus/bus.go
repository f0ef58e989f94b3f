// Package bus 前台与后台通知器之间的消息通道：前台 -> 后台走单一收件箱，后台 -> 前台广播给所有订阅者。
package bus

import (
	"context"
	"sync"
	"time"

	"netnetWatch/internal/model"
)

type Type string

// 前台 -> 后台
const (
	InitConfig           Type = "INIT_CONFIG"
	UpdateNotifiedStocks Type = "UPDATE_NOTIFIED_STOCKS"
	DisableNotifications Type = "DISABLE_NOTIFICATIONS"
)

// 后台 -> 前台
const (
	StockReachedNetNet Type = "STOCK_REACHED_NETNET"
	StockRecovered     Type = "STOCK_RECOVERED"
)

const (
	defaultInboxSize = 16
	defaultSubSize   = 16
)

type Message struct {
	Type           Type                  `json:"type"`
	APIURL         string                `json:"apiUrl,omitempty"`
	Tracked        []model.TrackedSymbol `json:"valuationData,omitempty"`
	NotifiedStocks []string              `json:"notifiedStocks"`
	Symbol         string                `json:"symbol,omitempty"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type Bus struct {
	inbox chan Message

	mu      sync.Mutex
	subs    map[int]chan Message
	nextID  int
	dropped int
}

func New() *Bus {
	return &Bus{
		inbox: make(chan Message, defaultInboxSize),
		subs:  make(map[int]chan Message),
	}
}

// Inbox 后台收件箱。
func (b *Bus) Inbox() <-chan Message { return b.inbox }

// Post 发给后台；收件箱满时等待，ctx 结束则放弃。
func (b *Bus) Post(ctx context.Context, m Message) error {
	select {
	case b.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast 发给所有前台订阅者，订阅者跟不上时丢弃，返回投递数。
func (b *Bus) Broadcast(m Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ch := range b.subs {
		select {
		case ch <- m:
			n++
		default:
			b.dropped++
		}
	}
	return n
}

// Subscribe 返回的 cancel 可重复调用，调用后通道关闭。
func (b *Bus) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, defaultSubSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped 因订阅者阻塞而丢弃的广播数。
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
