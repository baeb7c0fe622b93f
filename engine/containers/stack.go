package containers

// Stack is a LIFO backed by a slice. It is not safe for concurrent use.
type Stack[T any] struct {
	items []T
}

func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

func (s *Stack[T]) Push(value T) {
	s.items = append(s.items, value)
}

// Pop removes the most recently pushed element. ok is false on an empty stack.
func (s *Stack[T]) Pop() (value T, ok bool) {
	if len(s.items) == 0 {
		return value, false
	}
	last := len(s.items) - 1
	value = s.items[last]
	var zero T
	s.items[last] = zero
	s.items = s.items[:last]
	return value, true
}

func (s *Stack[T]) Peek() (value T, ok bool) {
	if len(s.items) == 0 {
		return value, false
	}
	return s.items[len(s.items)-1], true
}

func (s *Stack[T]) Len() int {
	return len(s.items)
}
