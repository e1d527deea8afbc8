package workerpool

import (
	"context"
	"sync"
)

// Group 在共享池上运行一批任务，限制本批并发数并等待全部完成
type Group struct {
	pool *Pool
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewGroup 创建并发上限为 limit 的任务组，limit <= 0 时使用池容量
func (p *Pool) NewGroup(limit int) *Group {
	if limit <= 0 || limit > p.Cap() {
		limit = p.Cap()
	}
	return &Group{pool: p, sem: make(chan struct{}, limit)}
}

// Go 等待并发名额后把 task 提交到池中。
// ctx 取消时不再提交并返回 ctx.Err()，已提交的任务不受影响。
func (g *Group) Go(ctx context.Context, task func()) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer func() {
			<-g.sem
			g.wg.Done()
		}()
		task()
	})
	if err != nil {
		<-g.sem
		g.wg.Done()
		return err
	}
	return nil
}

// Wait 等待所有已提交任务结束
func (g *Group) Wait() {
	g.wg.Wait()
}
