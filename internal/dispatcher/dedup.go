package dispatcher

// ProcessedMessageSet id сообщений одного чата, по которым уже было действие.
// При переполнении остаются самые новые.
type ProcessedMessageSet struct {
	capacity int
	keep     int
	ids      map[int]struct{}
	order    []int
}

// NewProcessedMessageSet capacity максимум id, keep сколько оставить после обрезки
func NewProcessedMessageSet(capacity, keep int) *ProcessedMessageSet {
	if capacity <= 0 {
		capacity = 500
	}
	if keep <= 0 || keep > capacity {
		keep = capacity * 3 / 5
	}
	return &ProcessedMessageSet{
		capacity: capacity,
		keep:     keep,
		ids:      make(map[int]struct{}, capacity),
	}
}

// Contains проверяет id
func (s *ProcessedMessageSet) Contains(id int) bool {
	_, ok := s.ids[id]
	return ok
}

// Mark добавляет id. false если id уже был.
func (s *ProcessedMessageSet) Mark(id int) bool {
	if s.Contains(id) {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		drop := s.order[:len(s.order)-s.keep]
		for _, old := range drop {
			delete(s.ids, old)
		}
		s.order = append([]int(nil), s.order[len(s.order)-s.keep:]...)
	}
	return true
}

// Len количество id
func (s *ProcessedMessageSet) Len() int {
	return len(s.order)
}
