package stack

// Segment 一段连续的接收数据。
// 传输层把通过 Next 串起来的 segment 链交给接收回调，链上每个 segment 的所有权也一并转移，
// 接收方消费完后调用 Release 还给传输层的分配器。
type Segment struct {
	payload []byte
	next    *Segment
	release func()
}

// NewSegment 不拷贝地包装 payload。release 只在第一次 Release 时执行，可以为 nil。
func NewSegment(payload []byte, release func()) *Segment {
	return &Segment{payload: payload, release: release}
}

// NewChain 按顺序串起 segments 并返回链头，为空时返回 nil
func NewChain(segs ...*Segment) *Segment {
	if len(segs) == 0 {
		return nil
	}
	for i := 0; i < len(segs)-1; i++ {
		segs[i].next = segs[i+1]
	}
	return segs[0]
}

func (s *Segment) Bytes() []byte {
	return s.payload
}

func (s *Segment) Len() int {
	return len(s.payload)
}

func (s *Segment) Next() *Segment {
	return s.next
}

// Detach 把 s 从链上摘下，返回原来的下一个
func (s *Segment) Detach() *Segment {
	next := s.next
	s.next = nil
	return next
}

// TotalLen s 及其后所有 segment 的总字节数
func (s *Segment) TotalLen() int {
	total := 0
	for seg := s; seg != nil; seg = seg.next {
		total += len(seg.payload)
	}
	return total
}

// Release 把 segment 还给分配器，只释放 s 本身，不包括后面的 segment
func (s *Segment) Release() {
	if s.release != nil {
		release := s.release
		s.release = nil
		release()
	}
	s.payload = nil
}
