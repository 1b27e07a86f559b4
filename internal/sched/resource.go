// internal/sched/resource.go

package sched

// ResourceID identifies a standard resource.
type ResourceID int

// Resource is a priority-ceiling resource. Held resources form an intrusive
// LIFO stack per task through next.
type Resource struct {
	ID      ResourceID
	Name    string
	Ceiling Priority

	owner    TaskID
	prevPrio Priority // owner's current priority before the lock
	next     *Resource
}

// Owner returns the holding task, or InvalidTask.
func (r *Resource) Owner() TaskID { return r.owner }

// InternalResource is taken automatically while its task runs.
type InternalResource struct {
	Name    string
	Ceiling Priority

	taken    bool
	prevPrio Priority
}

// Taken reports whether the owning task currently holds it.
func (ir *InternalResource) Taken() bool { return ir.taken }

// GetResource locks res for the running task and raises its priority to
// the resource ceiling.
func (k *Kernel) GetResource(id ResourceID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.getResource(k, id); err != nil {
		return k.fail(SysGetResource, err)
	}
	t := k.running
	if t == nil {
		return k.fail(SysGetResource, ErrCallLevel)
	}
	r := &k.resources[id]

	r.prevPrio = t.dyn.priority
	r.owner = t.ID
	r.next = t.dyn.resources
	t.dyn.resources = r
	if t.dyn.priority < r.Ceiling {
		k.setPriority(t, r.Ceiling)
	}
	k.emit(StatusLock, t, r.Name)
	return nil
}

// ReleaseResource unlocks res, which must be the most recently acquired
// resource of the running task, and restores its previous priority.
func (k *Kernel) ReleaseResource(id ResourceID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.releaseResource(k, id); err != nil {
		return k.fail(SysReleaseResource, err)
	}
	t := k.running
	r := &k.resources[id]
	if t == nil {
		return k.fail(SysReleaseResource, ErrCallLevel)
	}
	if t.dyn.resources != r {
		return k.fail(SysReleaseResource, ErrNoFunc)
	}

	r.owner = InvalidTask
	t.dyn.resources = r.next
	r.next = nil
	k.setPriority(t, r.prevPrio)
	k.schedulerNeeded = true
	k.emit(StatusUnlock, t, r.Name)
	return nil
}

// releaseAll drops every resource held by t regardless of order.
func (k *Kernel) releaseAll(t *Task) {
	for r := t.dyn.resources; r != nil; {
		next := r.next
		r.owner = InvalidTask
		r.next = nil
		r = next
	}
	t.dyn.resources = nil
	k.setPriority(t, t.Priority)
}

// getInternalResource boosts t to its internal resource ceiling.
func (k *Kernel) getInternalResource(t *Task) {
	ir := t.InternalResource
	if ir == nil || ir.taken {
		return
	}
	ir.taken = true
	ir.prevPrio = t.dyn.priority
	if t.dyn.priority < ir.Ceiling {
		k.setPriority(t, ir.Ceiling)
	}
}

// releaseInternalResource restores t's priority from before the internal
// resource was taken.
func (k *Kernel) releaseInternalResource(t *Task) {
	ir := t.InternalResource
	if ir == nil || !ir.taken {
		return
	}
	ir.taken = false
	k.setPriority(t, ir.prevPrio)
}

// setPriority changes the current priority and relocates the level mapping.
func (k *Kernel) setPriority(t *Task, p Priority) {
	t.dyn.priority = p
	t.dyn.level = k.rq.levelFor(p)
}
