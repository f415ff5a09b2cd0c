// Package realtime は受信者ごとのライブ接続の登録とイベントのファンアウトを提供する。
// 接続はプロセスローカルで永続化されない。到達できない接続へのイベントは失われる
// （永続的な状態は通知レコードであり、ライブストリームはベストエフォート）。
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventTypeHeartbeat は接続維持イベントの種別。
const EventTypeHeartbeat = "HEARTBEAT"

// Event はライブ接続へ配信されるイベントを表す。
type Event struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// connBufferSize は接続ごとのイベントバッファサイズ。
// バッファが満杯の接続は読み取りが停止したクライアントとみなして切断する。
const connBufferSize = 16

// Connection は1つのライブ購読チャネルを表す。
// Registryが生成・所有し、切断もRegistryを通じてのみ行われる。
type Connection struct {
	ch          chan Event
	connectedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

// Events は配信イベントの受信チャネルを返す。
// 接続が切断されるとチャネルはクローズされる。
func (c *Connection) Events() <-chan Event {
	return c.ch
}

// ConnectedAt は接続確立時刻を返す。
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Touch は最終アクティビティ時刻を現在時刻に更新する。
// 読み取り側がイベントを消費したタイミングで呼び出す。
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// trySend はイベントの非ブロッキング送信を試みる。
// クローズ済み、またはバッファ満杯の場合はfalseを返す。
func (c *Connection) trySend(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.ch <- ev:
		c.lastActivity = time.Now()
		return true
	default:
		return false
	}
}

// close は接続をクローズする。2回目以降の呼び出しは何もしない。
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// idleSince は最終アクティビティ時刻を返す。
func (c *Connection) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Stats はレジストリの現在の接続統計を表す。
type Stats struct {
	Recipients  int // 少なくとも1接続を持つ受信者数
	Connections int // ライブ接続の総数
}

// Config はRegistryの動作設定を保持する。
type Config struct {
	HeartbeatInterval time.Duration // 接続維持イベントの送信間隔
	StaleAfter        time.Duration // この時間アクティビティのない接続を強制切断する
}

// Registry は受信者ごとのライブ接続集合を管理する。
// 1受信者は複数接続（マルチデバイス）を持つことができる。
// subscribe/unsubscribe/publish/pruneはすべて単一のミューテックスで直列化される。
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.Mutex
	conns            map[string][]*Connection
	heartbeatRunning bool

	stopCh chan struct{}
}

// NewRegistry はRegistryを生成する。
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string][]*Connection),
		stopCh: make(chan struct{}),
	}
}

// Subscribe は受信者のライブ接続を登録し、接続ハンドルを返す。
// 最初の接続が登録されたタイミングでハートビートを起動する。
func (r *Registry) Subscribe(recipient string) *Connection {
	now := time.Now()
	conn := &Connection{
		ch:           make(chan Event, connBufferSize),
		connectedAt:  now,
		lastActivity: now,
	}

	r.mu.Lock()
	r.conns[recipient] = append(r.conns[recipient], conn)
	startHeartbeat := !r.heartbeatRunning
	if startHeartbeat {
		r.heartbeatRunning = true
	}
	total := r.connectionCountLocked()
	r.mu.Unlock()

	if startHeartbeat {
		go r.heartbeatLoop()
	}

	r.logger.Info("ライブ接続を登録しました",
		slog.String("recipient", recipient),
		slog.Int("total_connections", total),
	)

	return conn
}

// Unsubscribe は受信者の接続を登録解除してクローズする。
// 未知の接続を指定しても何もしない。
func (r *Registry) Unsubscribe(recipient string, conn *Connection) {
	r.mu.Lock()
	r.removeLocked(recipient, conn)
	r.mu.Unlock()

	conn.close()

	r.logger.Info("ライブ接続を解除しました",
		slog.String("recipient", recipient),
	)
}

// Publish は受信者の全ライブ接続へイベントを配信する。
// 書き込みに失敗した接続はその場で登録解除する（配信全体は失敗させない）。
// 1件以上の接続へ配信できた場合にtrueを返す。
// 接続が存在しない場合はfalseを返す。これはエラーではなく、
// 呼び出し元は永続化済みレコードを正とし配信スキップとして扱う。
func (r *Registry) Publish(recipient string, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.conns[recipient]
	if len(conns) == 0 {
		return false
	}

	delivered := 0
	var dead []*Connection
	for _, conn := range conns {
		if conn.trySend(ev) {
			delivered++
		} else {
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		r.removeLocked(recipient, conn)
		conn.close()
		r.logger.Warn("応答のない接続を切断しました",
			slog.String("recipient", recipient),
		)
	}

	return delivered > 0
}

// Stats は現在の接続統計を返す。
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Recipients:  len(r.conns),
		Connections: r.connectionCountLocked(),
	}
}

// StartReaper は無応答接続の回収スイープを開始する。
// コンテキストがキャンセルされるまでintervalごとに実行を継続する。
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("接続リーパーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("stale_after", r.cfg.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("接続リーパーを停止しました")
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			reaped := r.ReapStale()
			if reaped > 0 {
				r.logger.Info("無応答接続を回収しました",
					slog.Int("reaped", reaped),
				)
			}
		}
	}
}

// ReapStale は最終アクティビティがStaleAfterより古い接続を強制切断し、件数を返す。
func (r *Registry) ReapStale() int {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for recipient, conns := range r.conns {
		var stale []*Connection
		for _, conn := range conns {
			if conn.idleSince().Before(cutoff) {
				stale = append(stale, conn)
			}
		}
		for _, conn := range stale {
			r.removeLocked(recipient, conn)
			conn.close()
			reaped++
		}
	}
	return reaped
}

// Close は全接続をクローズし、ハートビートとリーパーを停止する。
func (r *Registry) Close() {
	close(r.stopCh)

	r.mu.Lock()
	defer r.mu.Unlock()

	for recipient, conns := range r.conns {
		for _, conn := range conns {
			conn.close()
		}
		delete(r.conns, recipient)
	}
}

// heartbeatLoop は接続が存在する間だけ動作するハートビート送信ループ。
// レジストリが空になった時点で終了し、次のSubscribeで再起動される。
func (r *Registry) heartbeatLoop() {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if !r.broadcastHeartbeat() {
				return
			}
		}
	}
}

// broadcastHeartbeat は全受信者の全接続へハートビートを送信する。
// Publishと同様に書き込み失敗した接続を登録解除する。
// レジストリが空になった場合はfalseを返してループを終了させる。
func (r *Registry) broadcastHeartbeat() bool {
	ev := Event{Type: EventTypeHeartbeat, At: time.Now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()

	for recipient, conns := range r.conns {
		var dead []*Connection
		for _, conn := range conns {
			if !conn.trySend(ev) {
				dead = append(dead, conn)
			}
		}
		for _, conn := range dead {
			r.removeLocked(recipient, conn)
			conn.close()
		}
	}

	if len(r.conns) == 0 {
		r.heartbeatRunning = false
		return false
	}
	return true
}

// removeLocked は受信者の接続リストから1接続を取り除く。
// リストが空になったら受信者エントリ自体を削除する。呼び出し元がmuを保持すること。
func (r *Registry) removeLocked(recipient string, conn *Connection) {
	conns := r.conns[recipient]
	for i, c := range conns {
		if c == conn {
			r.conns[recipient] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.conns[recipient]) == 0 {
		delete(r.conns, recipient)
	}
}

// connectionCountLocked はライブ接続の総数を返す。呼び出し元がmuを保持すること。
func (r *Registry) connectionCountLocked() int {
	total := 0
	for _, conns := range r.conns {
		total += len(conns)
	}
	return total
}
