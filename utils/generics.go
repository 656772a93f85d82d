package utils

// Map and Filter are the small generic slice helpers the rest of this
// module's call sites (llm/openai_tool_chat.go, coding/unix's command
// runner, dev's edit-block handling) already rely on via utils.Map/
// utils.Filter; Go's standard library has no equivalent until a generic
// "slices" package with these exact names, so they live here instead.
func Map[T, U any](items []T, fn func(T) U) []U {
	result := make([]U, len(items))
	for i, item := range items {
		result[i] = fn(item)
	}
	return result
}

func Filter[T any](items []T, fn func(T) bool) []T {
	result := make([]T, 0, len(items))
	for _, item := range items {
		if fn(item) {
			result = append(result, item)
		}
	}
	return result
}
