package utils

import "sync/atomic"

// UnboundChan 无界管道，In 永远不会因为消费者慢而阻塞（只等待搬运协程接收）。
// 元素按写入顺序输出；Close 之后剩余元素仍会被全部输出，然后关闭输出端。
type UnboundChan[T any] struct {
	in, out chan T
	buffer  []T
	length  atomic.Int64
}

func NewUnboundChan[T any](initCap int) *UnboundChan[T] {
	uc := &UnboundChan[T]{
		in:     make(chan T),
		out:    make(chan T),
		buffer: make([]T, 0, initCap),
	}
	go uc.run()
	return uc
}

func (uc *UnboundChan[T]) run() {
	defer close(uc.out)
	for {
		if len(uc.buffer) == 0 {
			v, ok := <-uc.in
			if !ok {
				return
			}
			select {
			case uc.out <- v:
				continue
			default:
				// pass
			}
			uc.push(v)
			continue
		}

		select {
		case v, ok := <-uc.in:
			if !ok {
				for len(uc.buffer) > 0 {
					uc.out <- uc.pop()
				}
				return
			}
			uc.push(v)
		case uc.out <- uc.buffer[0]:
			uc.pop()
		}
	}
}

func (uc *UnboundChan[T]) push(v T) {
	uc.buffer = append(uc.buffer, v)
	uc.length.Add(1)
}

func (uc *UnboundChan[T]) pop() T {
	var zero T
	v := uc.buffer[0]
	uc.buffer[0] = zero
	uc.buffer = uc.buffer[1:]
	uc.length.Add(-1)
	return v
}

func (uc *UnboundChan[T]) In(v T) {
	uc.in <- v
}

func (uc *UnboundChan[T]) Out() (T, bool) {
	v, ok := <-uc.out
	return v, ok
}

// Output 暴露接收端，便于在 select 中使用
func (uc *UnboundChan[T]) Output() <-chan T {
	return uc.out
}

// Len 还没交给消费者的缓存元素数
func (uc *UnboundChan[T]) Len() int64 {
	return uc.length.Load()
}

func (uc *UnboundChan[T]) Close() {
	close(uc.in)
}
