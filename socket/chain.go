package socket

import "github.com/Trinoooo/eggie_sock/stack"

// rxChain 保存已收到但还没交给调用方的 segment。
// offset 总是落在 segs[0] 内部，否则链为空。
type rxChain struct {
	segs   []*stack.Segment
	offset int
	size   int
}

func (rc *rxChain) empty() bool {
	return len(rc.segs) == 0
}

// buffered 未读字节数
func (rc *rxChain) buffered() int {
	return rc.size
}

// append 接管 head 链上所有 segment 的所有权，payload 不拷贝。
// 空 segment 直接还给分配器。
func (rc *rxChain) append(head *stack.Segment) {
	for seg := head; seg != nil; {
		next := seg.Detach()
		if seg.Len() == 0 {
			seg.Release()
		} else {
			rc.segs = append(rc.segs, seg)
			rc.size += seg.Len()
		}
		seg = next
	}
}

// read 按到达顺序最多拷贝 len(p) 字节，完全读完的 segment 会被释放。
func (rc *rxChain) read(p []byte) int {
	n := 0
	for n < len(p) && len(rc.segs) > 0 {
		head := rc.segs[0]
		copied := copy(p[n:], head.Bytes()[rc.offset:])
		n += copied
		rc.offset += copied
		if rc.offset == head.Len() {
			head.Release()
			rc.segs[0] = nil
			rc.segs = rc.segs[1:]
			rc.offset = 0
		}
	}
	rc.size -= n
	return n
}

func (rc *rxChain) release() {
	for _, seg := range rc.segs {
		seg.Release()
	}
	rc.segs = nil
	rc.offset = 0
	rc.size = 0
}

// releaseChain 释放不需要保留的整条链
func releaseChain(head *stack.Segment) {
	for seg := head; seg != nil; {
		next := seg.Detach()
		seg.Release()
		seg = next
	}
}
