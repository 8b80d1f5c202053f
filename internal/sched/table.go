// internal/sched/table.go

package sched

// table is the fixed-capacity task table. Its backing slice is allocated once
// and never grows, so registration and removal do not allocate.
type table struct {
	slots []descriptor
}

func newTable(capacity int) *table {
	t := &table{slots: make([]descriptor, capacity)}
	for i := range t.slots {
		t.slots[i] = emptyDescriptor
	}
	return t
}

// findFreeSlot returns the first empty slot, or -1 if the table is full.
func (t *table) findFreeSlot() int {
	for i := range t.slots {
		if t.slots[i].empty() {
			return i
		}
	}
	return -1
}

// findSlotByPid returns the slot holding pid, or -1.
func (t *table) findSlotByPid(pid PID) int {
	if pid == NoPID {
		return -1
	}
	for i := range t.slots {
		if t.slots[i].pid == pid {
			return i
		}
	}
	return -1
}

// register stores d in the first free slot and returns its new PID.
func (t *table) register(d descriptor) (PID, error) {
	i := t.findFreeSlot()
	if i == -1 {
		return NoPID, ErrTableFull
	}
	d.pid = PID(i) // pid is the slot index
	t.slots[i] = d
	return d.pid, nil
}

// clear resets the slot holding pid to empty.
func (t *table) clear(pid PID) bool {
	i := t.findSlotByPid(pid)
	if i == -1 {
		return false
	}
	t.slots[i] = emptyDescriptor
	return true
}

func (t *table) lookup(pid PID) *descriptor {
	i := t.findSlotByPid(pid)
	if i == -1 {
		return nil
	}
	return &t.slots[i]
}

func (t *table) len() int {
	n := 0
	for i := range t.slots {
		if !t.slots[i].empty() {
			n++
		}
	}
	return n
}

func (t *table) cap() int { return len(t.slots) }
