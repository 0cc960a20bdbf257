package domain

import (
	"sort"
	"time"
)

// Todo is a single entry of the list.
type Todo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	// Created and Modified are Unix milliseconds stamped by the client.
	Created  int64 `json:"created"`
	Modified int64 `json:"modified,omitempty"`
}

// DocumentResult is returned by collection writes.
type DocumentResult struct {
	DocumentID string `json:"documentId"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// Millis converts t to the timestamp representation used by Todo.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// SortTodos orders todos newest first. Equal timestamps fall back to the id
// so the order is stable across reloads.
func SortTodos(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if todos[i].Created != todos[j].Created {
			return todos[i].Created > todos[j].Created
		}
		return todos[i].ID < todos[j].ID
	})
}

// Toggled returns a copy of t with the completion flag flipped.
func (t Todo) Toggled() Todo {
	t.Completed = !t.Completed
	return t
}
