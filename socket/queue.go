package socket

import "container/list"

// acceptQueue 按到达顺序保存连接，直到被 Accept 取走。
// 排队中的子连接没有安装 handler。
type acceptQueue struct {
	l list.List
}

func (q *acceptQueue) push(c *Conn) {
	q.l.PushBack(c)
}

// pop 取出最早的子连接，没有时返回 nil
func (q *acceptQueue) pop() *Conn {
	front := q.l.Front()
	if front == nil {
		return nil
	}
	return q.l.Remove(front).(*Conn)
}

func (q *acceptQueue) len() int {
	return q.l.Len()
}
