package tasks

// Task belongs to exactly one user. IDs come from a process-wide counter
// and are never reused.
type Task struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// User is created lazily on the first authenticated request for its subject.
type User struct {
	ID    string `json:"id"`
	Tasks []Task `json:"tasks"`
}

// Patch carries the fields of an update request. Zero values mean "keep":
// an empty Title or a false Completed never overwrite the stored value.
type Patch struct {
	Title     string
	Completed bool
}

func (p Patch) apply(t *Task) {
	if p.Title != "" {
		t.Title = p.Title
	}
	if p.Completed {
		t.Completed = true
	}
}
