package container

import (
	"fmt"
	"log"
)

// IHasVAndLength 具有速度和长度属性的接口
// 功能：定义车辆作为链表元素时需要的关键信息接口
// 说明：便于在链表中快速访问元素的速度和长度信息
type IHasVAndLength interface {
	V() float64      // 获取速度
	Length() float64 // 获取长度
}

// ListNode 双向链表中的节点
// 功能：表示双向链表中的一个节点，包含键值对和额外信息
// 说明：S为排序键（车头沿车道的里程），Extra存储车道相关的附加状态
type ListNode[T IHasVAndLength, E any] struct {
	parent     *List[T, E]     // 所属链表
	prev, next *ListNode[T, E] // 前驱和后继节点
	S          float64         // 键值（沿车道里程，升序）
	Value      T               // 主要值
	Extra      E               // 额外信息
}

// String 获取节点的字符串表示
func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{S:%v, Value:%+v, Extra:%+v}", n.S, n.Value, n.Extra)
}

// Prev 获取节点的前一个节点（更靠近车道起点）
func (n *ListNode[T, E]) Prev() *ListNode[T, E] {
	return n.prev
}

// Next 获取节点的下一个节点（更靠近车道终点）
func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// Parent 获取节点所在的链表
func (n *ListNode[T, E]) Parent() *List[T, E] {
	return n.parent
}

// V 获取节点值的速度
// 说明：简化代码的特殊函数，直接获取Value的速度
func (n *ListNode[T, E]) V() float64 {
	return n.Value.V()
}

// L 获取节点值的长度
// 说明：简化代码的特殊函数，直接获取Value的长度
func (n *ListNode[T, E]) L() float64 {
	return n.Value.Length()
}

// InsertBefore 在节点前插入新节点
// 参数：add-要插入的新节点
// 说明：新节点不得已在其他链表中，否则panic
func (n *ListNode[T, E]) InsertBefore(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("insert node who already in list")
	}
	add.parent = n.parent
	add.next = n
	add.prev = n.prev
	n.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		add.parent.head = add
	}
	n.parent.length++
}

// InsertAfter 在节点后插入新节点
// 参数：add-要插入的新节点
// 说明：新节点不得已在其他链表中，否则panic
func (n *ListNode[T, E]) InsertAfter(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("insert node who already in list")
	}
	add.parent = n.parent
	add.prev = n
	add.next = n.next
	n.next = add
	if add.next != nil {
		add.next.prev = add
	} else {
		add.parent.tail = add
	}
	n.parent.length++
}

// List 双向链表
// 功能：按键值升序维护车道上的车辆序列
// 说明：头节点为最靠近车道起点的车辆，尾节点为领头车
type List[T IHasVAndLength, E any] struct {
	ID         string          // 链表标识符
	head, tail *ListNode[T, E] // 头尾节点指针
	length     int             // 链表长度
}

// String 获取链表的字符串表示
func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v}", l.ID)
}

// Keys 获取双向链表中所有节点的键值（从起点到终点）
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, l.length)
	for i, node := 0, l.head; node != nil; i, node = i+1, node.next {
		keys[i] = node.S
	}
	return keys
}

// Values 获取双向链表中所有节点的值（从起点到终点）
func (l *List[T, E]) Values() []T {
	values := make([]T, l.length)
	for i, node := 0, l.head; node != nil; i, node = i+1, node.next {
		values[i] = node.Value
	}
	return values
}

// Len 获取双向链表长度
func (l *List[T, E]) Len() int {
	return l.length
}

// PushFront 向链表头部插入节点
func (l *List[T, E]) PushFront(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push front node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.head == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		// length++和add.parent在InsertBefore中处理
		l.head.InsertBefore(add)
		l.head = add
	}
}

// PushBack 向链表尾部插入节点
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.tail == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		// length++和add.parent在InsertAfter中处理
		l.tail.InsertAfter(add)
		l.tail = add
	}
}

// Remove 从链表中移除节点
// 参数：node-要删除的节点
// 说明：节点必须属于当前链表，否则panic
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panic("remove node from wrong list")
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	node.parent = nil
	l.length--
}

// First 获取链表头部节点（最靠近车道起点）
func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

// Last 获取链表尾部节点（领头车）
func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

// PopUnsorted 移除逆序节点
// 返回：被移除的逆序节点数组
// 算法说明：
// 1. 从头节点开始遍历链表
// 2. 如果前驱节点的键值大于当前节点，则移除当前节点
// 3. 将移除的节点收集后返回，由调用方重新Merge
// 说明：用于车辆位置更新后恢复链表的升序性质
func (l *List[T, E]) PopUnsorted() (unsorted []*ListNode[T, E]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 批量插入节点
// 算法说明：
// 1. 将待插入节点按键值排序
// 2. 与链表做归并，逐个插入到正确位置
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	// 1. sort array (可优化)
	for i := 0; i < len(adds)-1; i++ {
		for j := i + 1; j < len(adds); j++ {
			if adds[i].S > adds[j].S {
				adds[i], adds[j] = adds[j], adds[i]
			}
		}
	}
	// 2. merge sort
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}
