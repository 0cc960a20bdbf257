package functions

const maxBodySize = 64 * 1024 // 64 KiB

const (
	fnGetTodos   = "getTodos"
	fnCreateTodo = "createTodo"
	fnUpdateTodo = "updateTodo"
	fnDeleteTodo = "deleteTodo"
)

// POST deleteTodo request body
type deleteRequest struct {
	ID string `json:"id"`
}
