package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// ============================================================================
// 领导者判定
// ============================================================================

// LeaderGate 判定当前副本是否持有调度权
//
// tick 循环与兜底轮询在每轮开始时询问一次；失去领导权后正在
// 进行的那一轮不会被打断，重复触发由占位声明兜住。
type LeaderGate interface {
	IsLeader() bool
}

// AlwaysLeader 单副本部署：恒为领导者
type AlwaysLeader struct{}

// IsLeader 恒为 true
func (AlwaysLeader) IsLeader() bool { return true }

// ============================================================================
// etcd 选主
// ============================================================================

// 会话 TTL：领导者宕机后其他副本最多等这么久接任
const electionSessionTTL = 10

// Elector 基于 etcd 租约会话的领导者竞选
type Elector struct {
	client   *clientv3.Client
	prefix   string
	nodeID   string
	isLeader atomic.Bool
}

// NewElector 连接 etcd 并创建竞选器（不开始竞选，Run 才会）
func NewElector(endpoints []string, prefix, nodeID string) (*Elector, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints required")
	}
	if prefix == "" {
		prefix = "/missions/scheduler/leader"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[Scheduler/Election] connected to etcd: %v", endpoints)
	return &Elector{
		client: client,
		prefix: prefix,
		nodeID: nodeID,
	}, nil
}

// IsLeader 当前副本是否为领导者
func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

// Run 持续参与竞选直到 ctx 取消
//
// Campaign 会阻塞到当选；当选后守着会话，会话过期（网络分区、
// etcd 不可达）即让出领导权并用新会话重新竞选。ctx 取消时主动
// 辞任，让继任者立即接手而不是等租约过期。
func (e *Elector) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		session, err := concurrency.NewSession(e.client, concurrency.WithTTL(electionSessionTTL))
		if err != nil {
			log.Printf("[Scheduler/Election] create session failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		election := concurrency.NewElection(session, e.prefix)
		if err := election.Campaign(ctx, e.nodeID); err != nil {
			session.Close()
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Scheduler/Election] campaign failed: %v", err)
			continue
		}

		e.isLeader.Store(true)
		log.Printf("[Scheduler/Election] elected leader: node=%s", e.nodeID)

		select {
		case <-ctx.Done():
			e.isLeader.Store(false)
			resignCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := election.Resign(resignCtx); err != nil {
				log.Printf("[Scheduler/Election] resign failed: %v", err)
			}
			cancel()
			session.Close()
			return
		case <-session.Done():
			e.isLeader.Store(false)
			log.Printf("[Scheduler/Election] session expired, leadership lost: node=%s", e.nodeID)
		}
	}
}

// Close 关闭 etcd 连接
func (e *Elector) Close() error {
	return e.client.Close()
}
